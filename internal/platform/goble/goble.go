// Package goble is the go-ble backend: CoreBluetooth on macOS and raw HCI
// sockets on Linux.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/platform"
)

// Name is the backend name reported by Platform.Name
const Name = "goble"

// DefaultStartGrace is how long StartScan waits for the scanner to fail
// before it reports success
const DefaultStartGrace = 100 * time.Millisecond

// ScanDevice is the part of ble.Device the backend drives
type ScanDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// DeviceFactory opens the radio behind an adapter.
// This is a variable so that it can be overridden in tests.
//
//nolint:gochecknoglobals // overridable for tests
var DeviceFactory = newDevice

// AdapterLister enumerates the adapters. Overridable like DeviceFactory.
//
//nolint:gochecknoglobals // overridable for tests
var AdapterLister = listAdapters

// Options configures the backend
type Options struct {
	AllowDuplicates bool
	StartGrace      time.Duration
	Logger          *logrus.Logger
}

type session struct {
	adapter platform.Identity
	group   *groutine.Group
}

// Platform implements platform.Platform and platform.EnabledChecker on top
// of go-ble
type Platform struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	devices map[string]ScanDevice

	sessions *hashmap.Map[uint64, *session]
}

// New creates the backend. Devices are opened lazily on first scan.
func New(opts Options) *Platform {
	if opts.StartGrace <= 0 {
		opts.StartGrace = DefaultStartGrace
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Platform{
		opts:     opts,
		logger:   opts.Logger,
		devices:  make(map[string]ScanDevice),
		sessions: hashmap.New[uint64, *session](),
	}
}

// Name implements platform.Platform
func (p *Platform) Name() string {
	return Name
}

// Adapters implements platform.Platform
func (p *Platform) Adapters() ([]platform.Identity, error) {
	ids, err := AdapterLister()
	if err != nil {
		return nil, platform.NormalizeError(err)
	}
	return ids, nil
}

func (p *Platform) device(id platform.Identity) (ScanDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if dev, ok := p.devices[id.ID]; ok {
		return dev, nil
	}
	dev, err := DeviceFactory(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", id.ID, platform.NormalizeError(err))
	}
	p.devices[id.ID] = dev
	return dev, nil
}

// BluetoothEnabled implements platform.EnabledChecker. go-ble refuses to open
// a device whose radio is off, so a successful open means enabled.
func (p *Platform) BluetoothEnabled(id platform.Identity) (bool, error) {
	if _, err := p.device(id); err != nil {
		if errors.Is(err, platform.ErrBluetoothOff) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// StartScan implements platform.Platform. go-ble scans block until their
// context ends, so the scan runs on its own goroutine; errors raised within
// the start grace are returned, later ones are reported through
// native.OnScanFailed.
func (p *Platform) StartScan(id platform.Identity, h native.Handle) error {
	if _, ok := p.sessions.Get(uint64(h)); ok {
		return fmt.Errorf("%w: %s already scanning", platform.ErrBusy, h)
	}

	dev, err := p.device(id)
	if err != nil {
		return err
	}

	s := &session{adapter: id, group: groutine.NewGroup(context.Background())}
	scanErr := make(chan error, 1)

	s.group.Go("goble-scan-"+id.ID, func(ctx context.Context) {
		scanErr <- dev.Scan(ctx, p.opts.AllowDuplicates, func(adv ble.Advertisement) {
			native.OnScanResult(h, SnapshotFromAdvertisement(adv))
		})
	})

	select {
	case err := <-scanErr:
		s.group.Stop()
		if err == nil {
			err = errors.New("scanner stopped immediately")
		}
		return platform.NormalizeError(err)
	case <-time.After(p.opts.StartGrace):
	}

	p.sessions.Set(uint64(h), s)
	s.group.Go("goble-scan-watch-"+id.ID, func(ctx context.Context) {
		select {
		case err := <-scanErr:
			if isCancellation(err) || ctx.Err() != nil {
				return
			}
			p.sessions.Del(uint64(h))
			p.logger.WithFields(logrus.Fields{
				"adapter": id.ID,
				"handle":  h,
			}).WithError(platform.NormalizeError(err)).Error("Scanner stopped unexpectedly")
			native.OnScanFailed(h, native.ScanFailedInternalError)
		case <-ctx.Done():
		}
	})

	return nil
}

// StopScan implements platform.Platform and waits for the scan goroutine
func (p *Platform) StopScan(h native.Handle) error {
	s, ok := p.sessions.Get(uint64(h))
	if !ok {
		return nil
	}
	p.sessions.Del(uint64(h))
	s.group.Stop()

	p.logger.WithFields(logrus.Fields{"adapter": s.adapter.ID, "handle": h}).Debug("go-ble scan stopped")
	return nil
}

// Close stops every scan and releases the opened devices
func (p *Platform) Close() error {
	var open []uint64
	p.sessions.Range(func(h uint64, _ *session) bool {
		open = append(open, h)
		return true
	})
	for _, h := range open {
		if s, ok := p.sessions.Get(h); ok {
			p.sessions.Del(h)
			s.group.Stop()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, dev := range p.devices {
		if err := dev.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release %s: %w", id, err))
		}
		delete(p.devices, id)
	}
	return errors.Join(errs...)
}

func isCancellation(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
