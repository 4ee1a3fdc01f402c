package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/internal/adapter"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/metrics"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
	"golang.org/x/term"
)

type scanOptions struct {
	duration        time.Duration
	format          string
	watch           bool
	allowDuplicates bool
	metricsAddr     string
	adapterID       string
	services        []string
	allow           []string
	block           []string
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `Scan for Bluetooth Low Energy peripherals advertising nearby.

Every advertisement updates a table keyed by peripheral address: the latest
RSSI wins, names are kept once known and advertised services accumulate.
With --watch, found and updated peripherals are printed as they arrive until
Ctrl+C (or --duration, when given).

--services, --allow and --block only narrow what is printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "Scan duration")
	flags.StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "Print peripherals as they are found until interrupted")
	flags.BoolVar(&opts.allowDuplicates, "allow-duplicates", true, "Report every advertisement, not only the first per peripheral")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	flags.StringVarP(&opts.adapterID, "adapter", "a", "", "Adapter ID to scan with (default: first adapter)")
	flags.StringSliceVar(&opts.services, "services", nil, "Only show peripherals advertising one of these service UUIDs")
	flags.StringSliceVar(&opts.allow, "allow", nil, "Only show these peripheral addresses")
	flags.StringSliceVar(&opts.block, "block", nil, "Hide these peripheral addresses")
	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("duration") {
		if opts.duration <= 0 {
			return fmt.Errorf("invalid duration %s: must be positive", opts.duration)
		}
		cfg.ScanDuration = opts.duration
	}
	if flags.Changed("format") {
		cfg.OutputFormat = opts.format
	}
	if flags.Changed("allow-duplicates") {
		cfg.AllowDuplicates = opts.allowDuplicates
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	p, release, err := openPlatform(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, collector, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	a, err := openAdapter(p, opts.adapterID, adapter.Options{
		Logger:      logger,
		Metrics:     collector,
		EventBuffer: cfg.EventBuffer,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	filter := newDisplayFilter(opts.services, opts.allow, opts.block)
	out := cmd.OutOrStdout()
	if opts.watch {
		var limit time.Duration
		if flags.Changed("duration") {
			limit = cfg.ScanDuration
		}
		err = runWatchMode(ctx, out, a, filter, limit)
	} else {
		err = runTimedScan(ctx, out, a, cfg.ScanDuration)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return displayResults(out, filter.Apply(a.ScanGetResults()), cfg.OutputFormat)
}

// openAdapter binds the adapter named id, or the first one when id is empty
func openAdapter(p platform.Platform, id string, opts adapter.Options) (*adapter.Adapter, error) {
	ids, err := p.Adapters()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s adapters: %w", p.Name(), platform.NormalizeError(err))
	}
	if len(ids) == 0 {
		return nil, ErrNoAdapters
	}
	if id == "" {
		return adapter.New(p, ids[0], opts)
	}
	for _, identity := range ids {
		if identity.ID == id {
			return adapter.New(p, identity, opts)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, id)
}

func runTimedScan(ctx context.Context, out io.Writer, a *adapter.Adapter, d time.Duration) error {
	if isTerminal(out) {
		progress := newProgressPrinter(out, fmt.Sprintf("Scanning with %s", a.Identifier()), d)
		a.SetCallbackOnScanFound(func(peripheral.Peripheral) { progress.Found() })
		a.SetCallbackOnScanStart(progress.Start)
		a.SetCallbackOnScanStop(progress.Stop)
		defer progress.Stop()
	}
	return a.ScanFor(ctx, d)
}

// runWatchMode prints every event until ctx ends, limit elapses (when
// positive) or the scan fails
func runWatchMode(ctx context.Context, out io.Writer, a *adapter.Adapter, filter *displayFilter, limit time.Duration) error {
	styles := newEventStyles(out)

	a.SetCallbackOnScanStart(func() {
		styles.info.Fprintf(out, "Scanning with %s, press Ctrl+C to stop\n", a.Identifier())
	})
	if err := a.ScanStart(); err != nil {
		return err
	}

	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}

	events := a.Events()
	var scanErr error
loop:
	for {
		select {
		case <-ctx.Done():
			scanErr = ctx.Err()
			break loop
		case <-timeout:
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if ev.Type == adapter.EventScanFailed || filter.Match(ev.Peripheral) {
				printEvent(out, styles, ev)
			}
			if ev.Type == adapter.EventScanFailed && !a.ScanIsActive() {
				scanErr = fmt.Errorf("scan failed: %s", ev.Failure)
				break loop
			}
		}
	}

	if err := a.ScanStop(); err != nil {
		return err
	}
	return scanErr
}

type eventStyles struct {
	found   *color.Color
	updated *color.Color
	failed  *color.Color
	info    *color.Color
}

func newEventStyles(out io.Writer) eventStyles {
	styles := eventStyles{
		found:   color.New(color.FgGreen, color.Bold),
		updated: color.New(color.FgCyan),
		failed:  color.New(color.FgRed),
		info:    color.New(color.FgYellow),
	}
	enable := isTerminal(out)
	for _, c := range []*color.Color{styles.found, styles.updated, styles.failed, styles.info} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return styles
}

func printEvent(out io.Writer, styles eventStyles, ev adapter.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Type {
	case adapter.EventFound:
		styles.found.Fprintf(out, "%s + %s  %-20s %4d dBm  %s\n",
			ts, ev.Peripheral.Address(), ev.Peripheral.Name(), ev.Peripheral.RSSI(),
			strings.Join(ev.Peripheral.AdvertisedServices(), ","))
	case adapter.EventUpdated:
		styles.updated.Fprintf(out, "%s ~ %s  %-20s %4d dBm\n",
			ts, ev.Peripheral.Address(), ev.Peripheral.Name(), ev.Peripheral.RSSI())
	case adapter.EventScanFailed:
		styles.failed.Fprintf(out, "%s ! scan failed on %s: %s\n", ts, ev.Adapter, ev.Failure)
	}
}

func displayResults(out io.Writer, results []peripheral.Peripheral, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tTX\tSERVICES\tSEEN\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 96))

	for _, p := range results {
		name := p.Name()
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(p.AdvertisedServices(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		tx := "-"
		if power := p.TxPower(); power != nil {
			tx = fmt.Sprintf("%d dBm", *power)
		}

		lastSeen := time.Since(p.LastSeen()).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\t%d\t%s ago\n",
			name, p.Address(), p.RSSI(), tx, services, p.Sightings(), lastSeen)
	}

	return w.Flush()
}

// serveMetrics exposes the collector on addr until the returned stop func runs
func serveMetrics(addr string, collector *metrics.Collector, logger *logrus.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	groutine.Go(context.Background(), "metrics-server", func(context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	})
	logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to stop metrics server")
		}
	}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}
