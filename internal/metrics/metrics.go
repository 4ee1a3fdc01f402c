// Package metrics exposes scan pipeline counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons
const (
	DropAdapterClosed = "adapter_closed"
	DropInvalid       = "invalid_payload"
)

// Collector holds the scan pipeline metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry         *prometheus.Registry
	found            *prometheus.CounterVec
	updated          *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	callbackFailures *prometheus.CounterVec
	scanFailures     *prometheus.CounterVec
	scanning         *prometheus.GaugeVec
}

// New creates a collector registered on its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		found: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blescan",
			Name:      "peripherals_found_total",
			Help:      "First sightings of a peripheral address, by adapter.",
		}, []string{"adapter"}),
		updated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blescan",
			Name:      "peripherals_updated_total",
			Help:      "Repeated sightings of an already known peripheral, by adapter.",
		}, []string{"adapter"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blescan",
			Name:      "scan_events_dropped_total",
			Help:      "Scan events dropped before reaching the peripheral store, by reason.",
		}, []string{"adapter", "reason"}),
		callbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blescan",
			Name:      "callback_failures_total",
			Help:      "Consumer callbacks that panicked, by callback.",
		}, []string{"adapter", "callback"}),
		scanFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blescan",
			Name:      "scan_failures_total",
			Help:      "Scan failures reported by the platform, by code.",
		}, []string{"adapter", "code"}),
		scanning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "blescan",
			Name:      "scanning",
			Help:      "1 while the adapter is scanning.",
		}, []string{"adapter"}),
	}

	c.registry.MustRegister(c.found, c.updated, c.dropped, c.callbackFailures, c.scanFailures, c.scanning)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) PeripheralFound(adapter string) {
	if c == nil {
		return
	}
	c.found.WithLabelValues(adapter).Inc()
}

func (c *Collector) PeripheralUpdated(adapter string) {
	if c == nil {
		return
	}
	c.updated.WithLabelValues(adapter).Inc()
}

func (c *Collector) EventDropped(adapter, reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(adapter, reason).Inc()
}

func (c *Collector) CallbackFailed(adapter, callback string) {
	if c == nil {
		return
	}
	c.callbackFailures.WithLabelValues(adapter, callback).Inc()
}

func (c *Collector) ScanFailed(adapter, code string) {
	if c == nil {
		return
	}
	c.scanFailures.WithLabelValues(adapter, code).Inc()
}

func (c *Collector) SetScanning(adapter string, active bool) {
	if c == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	c.scanning.WithLabelValues(adapter).Set(v)
}
