// Package tinygo is the tinygo.org/x/bluetooth backend: BlueZ over D-Bus on
// Linux, CoreBluetooth on macOS and WinRT on Windows.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
	"tinygo.org/x/bluetooth"
)

// Name is the backend name reported by Platform.Name
const Name = "tinygo"

// DefaultStartGrace is how long StartScan waits for the radio to refuse
// the scan before it reports success
const DefaultStartGrace = 100 * time.Millisecond

// Radio is the part of *bluetooth.Adapter the backend drives
type Radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
}

// Options configures the backend
type Options struct {
	StartGrace time.Duration
	Logger     *logrus.Logger
}

// Platform implements platform.Platform and platform.EnabledChecker over a
// single tinygo radio. The library scans one radio at a time, so a second
// concurrent scan is busy.
type Platform struct {
	radio  Radio
	opts   Options
	logger *logrus.Logger

	enableMu sync.Mutex
	enabled  bool

	mu      sync.Mutex
	active  native.Handle
	group   *groutine.Group
	stopped chan struct{}
}

// New creates the backend over radio; nil selects bluetooth.DefaultAdapter
func New(radio Radio, opts Options) *Platform {
	if radio == nil {
		radio = bluetooth.DefaultAdapter
	}
	if opts.StartGrace <= 0 {
		opts.StartGrace = DefaultStartGrace
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Platform{radio: radio, opts: opts, logger: opts.Logger}
}

// Name implements platform.Platform
func (p *Platform) Name() string {
	return Name
}

// Adapters implements platform.Platform
func (p *Platform) Adapters() ([]platform.Identity, error) {
	return []platform.Identity{{ID: "default", Name: "Default Adapter"}}, nil
}

// enable brings the stack up once; a failed attempt is retried on the next call
func (p *Platform) enable() error {
	p.enableMu.Lock()
	defer p.enableMu.Unlock()
	if p.enabled {
		return nil
	}
	if err := p.radio.Enable(); err != nil {
		return err
	}
	p.enabled = true
	return nil
}

// StartScan implements platform.Platform
func (p *Platform) StartScan(id platform.Identity, h native.Handle) error {
	if err := p.enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth stack: %w", platform.NormalizeError(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return fmt.Errorf("%w: radio already scanning for %s", platform.ErrBusy, p.active)
	}

	group := groutine.NewGroup(context.Background())
	scanErr := make(chan error, 1)
	group.Go("tinygo-scan-"+id.ID, func(context.Context) {
		scanErr <- p.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			p.deliver(h, result)
		})
	})

	select {
	case err := <-scanErr:
		group.Stop()
		if err == nil {
			err = errors.New("scanner stopped immediately")
		}
		return platform.NormalizeError(err)
	case <-time.After(p.opts.StartGrace):
	}

	stopped := make(chan struct{})
	group.Go("tinygo-scan-watch-"+id.ID, func(ctx context.Context) {
		select {
		case err := <-scanErr:
			select {
			case <-stopped:
				return
			default:
			}
			p.release(group)
			p.logger.WithFields(logrus.Fields{"adapter": id.ID, "handle": h}).
				WithError(platform.NormalizeError(err)).Error("Scanner stopped unexpectedly")
			native.OnScanFailed(h, native.ScanFailedInternalError)
		case <-ctx.Done():
		}
	})

	p.active, p.group, p.stopped = h, group, stopped
	return nil
}

// deliver forwards one scan result to the owner of h. Results without an
// address cannot be keyed and are dropped.
func (p *Platform) deliver(h native.Handle, result bluetooth.ScanResult) {
	if result.Address == nil {
		p.logger.WithField("handle", h).Debug("Dropping scan result without an address")
		return
	}

	snap := SnapshotFromResult(result.Address.String(), result.RSSI, result.AdvertisementPayload)
	snap.AddressType = peripheral.AddressPublic
	if result.Address.IsRandom() {
		snap.AddressType = peripheral.AddressRandom
	}
	native.OnScanResult(h, snap)
}

func (p *Platform) release(group *groutine.Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group == group {
		p.active, p.group, p.stopped = 0, nil, nil
	}
}

// BluetoothEnabled implements platform.EnabledChecker. The stack counts as
// enabled once it could be brought up.
func (p *Platform) BluetoothEnabled(platform.Identity) (bool, error) {
	err := p.enable()
	if err == nil {
		return true, nil
	}
	if err = platform.NormalizeError(err); errors.Is(err, platform.ErrBluetoothOff) {
		return false, nil
	}
	return false, fmt.Errorf("failed to enable bluetooth stack: %w", err)
}

// StopScan implements platform.Platform
func (p *Platform) StopScan(h native.Handle) error {
	p.mu.Lock()
	if p.group == nil || p.active != h {
		p.mu.Unlock()
		return nil
	}
	group, stopped := p.group, p.stopped
	p.active, p.group, p.stopped = 0, nil, nil
	p.mu.Unlock()

	close(stopped)
	err := p.radio.StopScan()
	group.Stop()
	if err != nil {
		return platform.NormalizeError(err)
	}
	return nil
}
