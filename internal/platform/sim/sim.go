// Package sim is an in-memory Bluetooth platform. Tests drive it by emitting
// scan events by hand; the CLI uses its beacon generator to demo the scanner
// on machines without a radio.
package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
)

// Name is the backend name reported by Platform.Name
const Name = "sim"

// DefaultInterval is the beacon period used when Config.Interval is zero
const DefaultInterval = 250 * time.Millisecond

// Config describes the simulated radio
type Config struct {
	Adapters []platform.Identity
	// Beacons are advertised periodically while a scan is armed. Empty
	// means events are only delivered through Emit.
	Beacons  []peripheral.Snapshot
	Interval time.Duration
	Logger   *logrus.Logger
}

type armedScan struct {
	adapter platform.Identity
	beacons *groutine.Group
}

// Platform implements platform.Platform, platform.PairedLister and
// platform.EnabledChecker
type Platform struct {
	cfg    Config
	logger *logrus.Logger

	mu        sync.Mutex
	failStart map[string]error
	failStop  map[string]error
	paired    map[string][]peripheral.Snapshot
	disabled  map[string]bool

	armed *hashmap.Map[uint64, *armedScan]
}

// New creates a simulated platform. Without adapters a single "hci0" is exposed.
func New(cfg Config) *Platform {
	if len(cfg.Adapters) == 0 {
		cfg.Adapters = []platform.Identity{{ID: "hci0", Name: "Simulated Adapter", Address: "00:00:5E:00:53:00"}}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Platform{
		cfg:       cfg,
		logger:    cfg.Logger,
		failStart: make(map[string]error),
		failStop:  make(map[string]error),
		paired:    make(map[string][]peripheral.Snapshot),
		disabled:  make(map[string]bool),
		armed:     hashmap.New[uint64, *armedScan](),
	}
}

// Name implements platform.Platform
func (p *Platform) Name() string {
	return Name
}

// Adapters implements platform.Platform
func (p *Platform) Adapters() ([]platform.Identity, error) {
	out := make([]platform.Identity, len(p.cfg.Adapters))
	copy(out, p.cfg.Adapters)
	return out, nil
}

// StartScan arms a scan for h. It fails with the error set by FailStart,
// with platform.ErrBluetoothOff when the radio is switched off, or with
// platform.ErrBusy when h is already armed.
func (p *Platform) StartScan(id platform.Identity, h native.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failStart[id.ID]; err != nil {
		return err
	}
	if !p.isEnabled(id.ID) {
		return fmt.Errorf("failed to arm %s: %w", id.ID, platform.ErrBluetoothOff)
	}

	// GetOrInsert never returns for a key deleted earlier, so check then Set
	if _, ok := p.armed.Get(uint64(h)); ok {
		return fmt.Errorf("%w: %s already armed", platform.ErrBusy, h)
	}
	scan := &armedScan{adapter: id}
	p.armed.Set(uint64(h), scan)

	if len(p.cfg.Beacons) > 0 {
		scan.beacons = groutine.NewGroup(context.Background())
		scan.beacons.Go("sim-beacons-"+id.ID, func(ctx context.Context) {
			p.advertise(ctx, h)
		})
	}

	p.logger.WithFields(logrus.Fields{"adapter": id.ID, "handle": h}).Debug("Simulated scan armed")
	return nil
}

// StopScan disarms h. Stopping a handle that is not armed is not an error.
func (p *Platform) StopScan(h native.Handle) error {
	p.mu.Lock()
	scan, ok := p.armed.Get(uint64(h))
	if !ok {
		p.mu.Unlock()
		return nil
	}
	p.armed.Del(uint64(h))
	err := p.failStop[scan.adapter.ID]
	p.mu.Unlock()

	if scan.beacons != nil {
		scan.beacons.Stop()
	}

	p.logger.WithFields(logrus.Fields{"adapter": scan.adapter.ID, "handle": h}).Debug("Simulated scan disarmed")
	return err
}

// PairedPeripherals implements platform.PairedLister
func (p *Platform) PairedPeripherals(id platform.Identity) ([]peripheral.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]peripheral.Snapshot, len(p.paired[id.ID]))
	copy(out, p.paired[id.ID])
	return out, nil
}

// FailStart makes every StartScan on adapterID fail with err; nil clears it
func (p *Platform) FailStart(adapterID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failStart, adapterID)
		return
	}
	p.failStart[adapterID] = err
}

// FailStop makes every StopScan on adapterID report err; nil clears it
func (p *Platform) FailStop(adapterID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failStop, adapterID)
		return
	}
	p.failStop[adapterID] = err
}

// SetEnabled switches the simulated radio of adapterID on or off. A radio
// that is off refuses StartScan with platform.ErrBluetoothOff.
func (p *Platform) SetEnabled(adapterID string, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		delete(p.disabled, adapterID)
		return
	}
	p.disabled[adapterID] = true
}

// BluetoothEnabled implements platform.EnabledChecker
func (p *Platform) BluetoothEnabled(id platform.Identity) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isEnabled(id.ID), nil
}

func (p *Platform) isEnabled(adapterID string) bool {
	return !p.disabled[adapterID]
}

// SetPaired replaces the bonded peripherals reported for adapterID
func (p *Platform) SetPaired(adapterID string, snaps ...peripheral.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired[adapterID] = snaps
}

// Armed reports whether a scan is armed for h
func (p *Platform) Armed(h native.Handle) bool {
	_, ok := p.armed.Get(uint64(h))
	return ok
}

// ArmedCount returns the number of armed scans
func (p *Platform) ArmedCount() int {
	return p.armed.Len()
}

// Emit delivers snaps one by one to the owner of h, exactly like a native
// scan callback would, whether or not h is armed. It reports false when
// any event had no owner.
func (p *Platform) Emit(h native.Handle, snaps ...peripheral.Snapshot) bool {
	delivered := true
	for _, snap := range snaps {
		if snap.Timestamp.IsZero() {
			snap.Timestamp = time.Now()
		}
		if !native.OnScanResult(h, snap) {
			delivered = false
		}
	}
	return delivered
}

// EmitBatch delivers snaps as a single batch
func (p *Platform) EmitBatch(h native.Handle, snaps ...peripheral.Snapshot) bool {
	now := time.Now()
	batch := make([]peripheral.Snapshot, len(snaps))
	for i, snap := range snaps {
		if snap.Timestamp.IsZero() {
			snap.Timestamp = now
		}
		batch[i] = snap
	}
	return native.OnBatchScanResults(h, batch)
}

// Fail reports a scan failure for h and disarms it
func (p *Platform) Fail(h native.Handle, code native.ScanFailure) bool {
	if code != native.ScanFailedAlreadyStarted {
		p.mu.Lock()
		scan, ok := p.armed.Get(uint64(h))
		if ok {
			p.armed.Del(uint64(h))
		}
		p.mu.Unlock()
		if ok && scan.beacons != nil {
			// Fail may run on the beacon goroutine itself
			go scan.beacons.Stop()
		}
	}
	return native.OnScanFailed(h, code)
}

func (p *Platform) advertise(ctx context.Context, h native.Handle) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		for _, beacon := range p.cfg.Beacons {
			beacon.RSSI += rand.IntN(11) - 5 //nolint:gosec // signal jitter
			beacon.Timestamp = time.Now()
			native.OnScanResult(h, beacon)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
