// Package adapter implements the per-adapter scan state machine and the
// intake of native scan events into a deduplicated peripheral table.
//
// Threading: platform backends deliver events on goroutines they own, through
// the process-wide registry of package native. Consumer callbacks are invoked
// synchronously on that goroutine, one slot lock per callback, so callbacks
// must return quickly and must not call ScanFor. Consumers that need to do
// slow work can read Events instead, which never blocks the platform.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/callback"
	"github.com/srg/blescan/internal/metrics"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
	"github.com/srg/blescan/internal/ringchan"
)

// DefaultEventBuffer is the capacity of the Events ring channel
const DefaultEventBuffer = 128

// Callback slot names, used in diagnostics and metrics
const (
	slotScanStart   = "on_scan_start"
	slotScanStop    = "on_scan_stop"
	slotScanFound   = "on_scan_found"
	slotScanUpdated = "on_scan_updated"
)

// Options configures an Adapter
type Options struct {
	Logger      *logrus.Logger
	Metrics     *metrics.Collector
	EventBuffer int
}

// Adapter is one Bluetooth radio exposed by the platform. It owns a native
// handle for its whole lifetime: registered in New, unregistered in Close.
type Adapter struct {
	identity platform.Identity
	platform platform.Platform
	handle   native.Handle
	logger   *logrus.Logger
	metrics  *metrics.Collector

	store  *peripheral.Store
	events *ringchan.RingChannel[Event]

	stateMu  sync.Mutex // serializes ScanStart/ScanStop/Close
	scanning atomic.Bool
	closed   atomic.Bool

	onScanStart   *callback.Slot[func()]
	onScanStop    *callback.Slot[func()]
	onScanFound   *callback.Slot[func(peripheral.Peripheral)]
	onScanUpdated *callback.Slot[func(peripheral.Peripheral)]
}

// New creates an adapter for id and binds a fresh native handle to it
func New(p platform.Platform, id platform.Identity, opts Options) (*Adapter, error) {
	if p == nil {
		return nil, errors.New("platform is nil")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	a := &Adapter{
		identity:      id,
		platform:      p,
		handle:        native.NewHandle(),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		store:         peripheral.NewStore(),
		events:        ringchan.New[Event](opts.EventBuffer),
		onScanStart:   callback.NewSlot[func()](slotScanStart, opts.Logger),
		onScanStop:    callback.NewSlot[func()](slotScanStop, opts.Logger),
		onScanFound:   callback.NewSlot[func(peripheral.Peripheral)](slotScanFound, opts.Logger),
		onScanUpdated: callback.NewSlot[func(peripheral.Peripheral)](slotScanUpdated, opts.Logger),
	}

	if err := native.Default().Register(a.handle, a); err != nil {
		return nil, fmt.Errorf("failed to register adapter %s: %w", id.ID, err)
	}

	a.log().Debug("Adapter created")
	return a, nil
}

// Enumerate creates one Adapter per adapter the platform exposes
func Enumerate(p platform.Platform, opts Options) ([]*Adapter, error) {
	ids, err := p.Adapters()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s adapters: %w", p.Name(), platform.NormalizeError(err))
	}

	adapters := make([]*Adapter, 0, len(ids))
	for _, id := range ids {
		a, err := New(p, id, opts)
		if err != nil {
			for _, created := range adapters {
				created.Close()
			}
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func (a *Adapter) log() *logrus.Entry {
	return a.logger.WithFields(logrus.Fields{
		"adapter": a.identity.ID,
		"handle":  a.handle,
	})
}

// Identifier returns the adapter's human-readable name
func (a *Adapter) Identifier() string {
	if a.identity.Name == "" {
		return a.identity.ID
	}
	return a.identity.Name
}

// Address returns the adapter's hardware address, empty if the platform hides it
func (a *Adapter) Address() string {
	return a.identity.Address
}

// Identity returns the platform description of the adapter
func (a *Adapter) Identity() platform.Identity {
	return a.identity
}

// Handle returns the native handle bound to the adapter
func (a *Adapter) Handle() native.Handle {
	return a.handle
}

// ScanIsActive reports whether the adapter is scanning. It never blocks.
func (a *Adapter) ScanIsActive() bool {
	return a.scanning.Load()
}

// ScanStart arms the native scanner. on_scan_start fires only after the
// platform accepted the request. Starting an adapter that is already scanning
// is a no-op and does not fire on_scan_start again.
func (a *Adapter) ScanStart() error {
	a.stateMu.Lock()
	if a.closed.Load() {
		a.stateMu.Unlock()
		return ErrAdapterClosed
	}
	if a.scanning.Load() {
		a.stateMu.Unlock()
		a.log().Debug("Scan already active")
		return nil
	}

	if err := a.platform.StartScan(a.identity, a.handle); err != nil {
		a.stateMu.Unlock()
		err = &AdapterUnavailableError{Adapter: a.identity.ID, Err: platform.NormalizeError(err)}
		a.log().WithError(err).Error("Failed to start scan")
		return err
	}
	a.scanning.Store(true)
	a.stateMu.Unlock()

	a.metrics.SetScanning(a.identity.ID, true)
	a.log().Info("Scan started")
	invoke(a, a.onScanStart, callNoArgs)
	return nil
}

// ScanStop disarms the native scanner and fires on_scan_stop. Stopping an
// idle adapter is a no-op. The adapter is idle afterwards even if the
// platform reported an error, which is returned.
func (a *Adapter) ScanStop() error {
	a.stateMu.Lock()
	if !a.scanning.Load() {
		a.stateMu.Unlock()
		return nil
	}

	err := a.platform.StopScan(a.handle)
	a.scanning.Store(false)
	a.stateMu.Unlock()

	a.metrics.SetScanning(a.identity.ID, false)
	if err != nil {
		err = fmt.Errorf("failed to stop scan on %s: %w", a.identity.ID, platform.NormalizeError(err))
		a.log().WithError(err).Warn("Scanner did not stop cleanly")
	} else {
		a.log().Info("Scan stopped")
	}

	invoke(a, a.onScanStop, callNoArgs)
	return err
}

// ScanFor scans for d, blocking the calling goroutine, then stops. A
// cancelled ctx ends the wait early. Never call it from a scan callback.
func (a *Adapter) ScanFor(ctx context.Context, d time.Duration) error {
	if err := a.ScanStart(); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var waitErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := a.ScanStop(); err != nil {
		return err
	}
	return waitErr
}

// ScanGetResults returns a copy of every peripheral seen so far, in
// discovery order
func (a *Adapter) ScanGetResults() []peripheral.Peripheral {
	return a.store.Results()
}

// BluetoothEnabled reports whether the radio behind the adapter is powered
// on. Platforms that cannot tell report true so that scanning is attempted.
func (a *Adapter) BluetoothEnabled() (bool, error) {
	checker, ok := a.platform.(platform.EnabledChecker)
	if !ok {
		return true, nil
	}

	enabled, err := checker.BluetoothEnabled(a.identity)
	if err != nil {
		return false, fmt.Errorf("failed to query bluetooth state on %s: %w", a.identity.ID, platform.NormalizeError(err))
	}
	a.logger.WithFields(logrus.Fields{"adapter": a.identity.ID, "enabled": enabled}).Debug("Bluetooth state")
	return enabled, nil
}

// GetPairedPeripherals returns the peripherals bonded with this adapter.
// Platforms that cannot enumerate bonds yield an empty list.
func (a *Adapter) GetPairedPeripherals() ([]peripheral.Peripheral, error) {
	lister, ok := a.platform.(platform.PairedLister)
	if !ok {
		return []peripheral.Peripheral{}, nil
	}

	snaps, err := lister.PairedPeripherals(a.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to list paired peripherals on %s: %w", a.identity.ID, platform.NormalizeError(err))
	}

	out := make([]peripheral.Peripheral, 0, len(snaps))
	for _, snap := range snaps {
		view, ok := a.store.Get(snap.Address)
		if !ok {
			view = peripheral.FromSnapshot(snap)
		}
		out = append(out, view.WithPaired(true))
	}
	return out, nil
}

// Events returns the queue of found/updated/failed events. The buffer
// overwrites its oldest entries when the consumer falls behind.
func (a *Adapter) Events() <-chan Event {
	return a.events.C()
}

// SetCallbackOnScanStart installs fn; nil clears the callback
func (a *Adapter) SetCallbackOnScanStart(fn func()) {
	if fn == nil {
		a.onScanStart.Unload()
		return
	}
	a.onScanStart.Load(fn)
}

// SetCallbackOnScanStop installs fn; nil clears the callback
func (a *Adapter) SetCallbackOnScanStop(fn func()) {
	if fn == nil {
		a.onScanStop.Unload()
		return
	}
	a.onScanStop.Load(fn)
}

// SetCallbackOnScanFound installs fn; nil clears the callback
func (a *Adapter) SetCallbackOnScanFound(fn func(peripheral.Peripheral)) {
	if fn == nil {
		a.onScanFound.Unload()
		return
	}
	a.onScanFound.Load(fn)
}

// SetCallbackOnScanUpdated installs fn; nil clears the callback
func (a *Adapter) SetCallbackOnScanUpdated(fn func(peripheral.Peripheral)) {
	if fn == nil {
		a.onScanUpdated.Unload()
		return
	}
	a.onScanUpdated.Load(fn)
}

// invoke runs a consumer callback; failures are already logged by the slot
func invoke[F any](a *Adapter, slot *callback.Slot[F], call func(F)) {
	if err := slot.Invoke(call); err != nil {
		a.metrics.CallbackFailed(a.identity.ID, slot.Name())
	}
}

func callNoArgs(fn func()) { fn() }

// HandleScanResult is the intake for a single native scan event. It runs on
// the platform's goroutine and must not block.
func (a *Adapter) HandleScanResult(snap peripheral.Snapshot) {
	if a.closed.Load() {
		a.metrics.EventDropped(a.identity.ID, metrics.DropAdapterClosed)
		a.log().WithField("address", snap.Address).Debug("Dropped scan event for closed adapter")
		return
	}

	view, sighting, err := a.store.Observe(snap)
	if err != nil {
		a.metrics.EventDropped(a.identity.ID, metrics.DropInvalid)
		a.log().WithError(err).Warn("Dropped malformed scan event")
		return
	}

	event := Event{
		Adapter:    a.identity.ID,
		Peripheral: view,
		Timestamp:  view.LastSeen(),
	}

	switch sighting {
	case peripheral.Found:
		a.metrics.PeripheralFound(a.identity.ID)
		a.log().WithFields(logrus.Fields{
			"device":  view.Identifier(),
			"address": view.Address(),
			"rssi":    view.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventFound
		invoke(a, a.onScanFound, func(fn func(peripheral.Peripheral)) { fn(view) })
	default:
		a.metrics.PeripheralUpdated(a.identity.ID)
		a.log().WithFields(logrus.Fields{
			"address": view.Address(),
			"rssi":    view.RSSI(),
		}).Trace("Updated device")
		event.Type = EventUpdated
		invoke(a, a.onScanUpdated, func(fn func(peripheral.Peripheral)) { fn(view) })
	}

	a.events.Send(event)
}

// HandleBatchScanResults processes a batch in delivery order
func (a *Adapter) HandleBatchScanResults(snaps []peripheral.Snapshot) {
	for _, snap := range snaps {
		a.HandleScanResult(snap)
	}
}

// HandleScanFailed records a platform scan failure. The adapter returns to
// idle unless the platform reports that a scan is already running.
func (a *Adapter) HandleScanFailed(code native.ScanFailure) {
	a.metrics.ScanFailed(a.identity.ID, code.String())
	a.log().WithField("code", int(code)).Errorf("Scan failed: %s", code)

	if code != native.ScanFailedAlreadyStarted && !a.closed.Load() {
		if a.scanning.CompareAndSwap(true, false) {
			a.metrics.SetScanning(a.identity.ID, false)
		}
	}

	a.events.Send(Event{
		Type:      EventScanFailed,
		Adapter:   a.identity.ID,
		Failure:   code,
		Timestamp: time.Now(),
	})
}

// Close stops an active scan, unbinds the native handle and releases the
// event queue. Events still in flight for the handle are dropped.
func (a *Adapter) Close() {
	a.stateMu.Lock()
	if a.closed.Swap(true) {
		a.stateMu.Unlock()
		return
	}

	wasScanning := a.scanning.Swap(false)
	var stopErr error
	if wasScanning {
		stopErr = a.platform.StopScan(a.handle)
	}
	native.Default().Unregister(a.handle)
	a.stateMu.Unlock()

	if wasScanning {
		a.metrics.SetScanning(a.identity.ID, false)
		if stopErr != nil {
			a.log().WithError(platform.NormalizeError(stopErr)).Warn("Failed to stop scan while closing adapter")
		}
		invoke(a, a.onScanStop, callNoArgs)
	}

	a.events.Close()
	a.log().Debug("Adapter closed")
}
