package tinygo_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
	"github.com/srg/blescan/internal/platform/tinygo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

// fakeRadio blocks in Scan until StopScan, like the real stacks do
type fakeRadio struct {
	mu         sync.Mutex
	enableErr  error
	enables    int
	scanErr    error
	results    []bluetooth.ScanResult
	stop       chan struct{}
	crash      chan error
	scansBegun int
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{crash: make(chan error, 1)}
}

func (r *fakeRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enables++
	return r.enableErr
}

func (r *fakeRadio) Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	r.mu.Lock()
	r.scansBegun++
	if r.scanErr != nil {
		r.mu.Unlock()
		return r.scanErr
	}
	stop := make(chan struct{})
	r.stop = stop
	results := r.results
	r.mu.Unlock()

	for _, res := range results {
		callback(nil, res)
	}

	select {
	case <-stop:
		return nil
	case err := <-r.crash:
		return err
	}
}

func (r *fakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	return nil
}

// fakeAddress is a bluetooth.Addresser independent of the host stack
type fakeAddress struct {
	mac    string
	random bool
}

func (a *fakeAddress) String() string        { return a.mac }
func (a *fakeAddress) Set(val string)        { a.mac = val }
func (a *fakeAddress) SetRandom(random bool) { a.random = random }
func (a *fakeAddress) IsRandom() bool        { return a.random }

type receiver struct {
	mu       sync.Mutex
	results  []peripheral.Snapshot
	failures []native.ScanFailure
}

func (r *receiver) HandleScanResult(s peripheral.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, s)
}

func (r *receiver) HandleBatchScanResults(snaps []peripheral.Snapshot) {
	for _, s := range snaps {
		r.HandleScanResult(s)
	}
}

func (r *receiver) HandleScanFailed(code native.ScanFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, code)
}

func (r *receiver) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results), len(r.failures)
}

func setup(t *testing.T, radio *fakeRadio) (*tinygo.Platform, native.Handle, *receiver) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	p := tinygo.New(radio, tinygo.Options{StartGrace: 20 * time.Millisecond, Logger: logger})

	h := native.NewHandle()
	rec := &receiver{}
	require.NoError(t, native.Default().Register(h, rec))
	t.Cleanup(func() { native.Default().Unregister(h) })
	return p, h, rec
}

func TestScanLifecycle(t *testing.T) {
	radio := newFakeRadio()
	radio.results = []bluetooth.ScanResult{
		{Address: &fakeAddress{mac: "C4:7C:8D:6A:1B:01"}, RSSI: -40},
		{Address: &fakeAddress{mac: "5A:0B:C2:11:22:33", random: true}, RSSI: -41},
	}
	p, h, rec := setup(t, radio)
	id := platform.Identity{ID: "default"}

	require.NoError(t, p.StartScan(id, h))
	require.Eventually(t, func() bool {
		n, _ := rec.counts()
		return n == 2
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, "C4:7C:8D:6A:1B:01", rec.results[0].Address)
	assert.Equal(t, peripheral.AddressPublic, rec.results[0].AddressType)
	assert.Equal(t, peripheral.AddressRandom, rec.results[1].AddressType)
	rec.mu.Unlock()

	other := native.NewHandle()
	assert.ErrorIs(t, p.StartScan(id, other), platform.ErrBusy, "one radio scans for one handle")
	assert.NoError(t, p.StopScan(other), "stopping a handle that is not scanning is a no-op")

	require.NoError(t, p.StopScan(h))
	_, failures := rec.counts()
	assert.Zero(t, failures, "a requested stop is not a failure")

	require.NoError(t, p.StartScan(id, h), "radio is free again after stop")
	require.NoError(t, p.StopScan(h))
	assert.Equal(t, 1, radio.enables, "the stack is enabled once")
}

func TestResultWithoutAddressIsDropped(t *testing.T) {
	radio := newFakeRadio()
	radio.results = []bluetooth.ScanResult{
		{RSSI: -40},
		{Address: &fakeAddress{mac: "F0:12:34:56:78:9A"}, RSSI: -71},
	}
	p, h, rec := setup(t, radio)

	require.NoError(t, p.StartScan(platform.Identity{ID: "default"}, h))
	defer func() { _ = p.StopScan(h) }()

	require.Eventually(t, func() bool {
		n, _ := rec.counts()
		return n == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	n, _ := rec.counts()
	assert.Equal(t, 1, n, "only the addressed result is delivered")
}

func TestBluetoothEnabled(t *testing.T) {
	radio := newFakeRadio()
	radio.enableErr = errors.New("org.bluez.Error.NotReady: Resource Not Ready")
	p, _, _ := setup(t, radio)
	id := platform.Identity{ID: "default"}

	enabled, err := p.BluetoothEnabled(id)
	require.NoError(t, err)
	assert.False(t, enabled, "a stack that is not ready is off")

	radio.mu.Lock()
	radio.enableErr = errors.New("dbus: connection refused")
	radio.mu.Unlock()
	_, err = p.BluetoothEnabled(id)
	assert.Error(t, err)

	radio.mu.Lock()
	radio.enableErr = nil
	radio.mu.Unlock()
	enabled, err = p.BluetoothEnabled(id)
	require.NoError(t, err)
	assert.True(t, enabled, "enabling is retried after a failure")
	assert.Equal(t, 3, radio.enables)

	_, _ = p.BluetoothEnabled(id)
	assert.Equal(t, 3, radio.enables, "the stack is enabled once")
}

func TestEnableFailure(t *testing.T) {
	radio := newFakeRadio()
	radio.enableErr = errors.New("org.bluez.Error.NotReady: Resource Not Ready")
	p, h, _ := setup(t, radio)

	err := p.StartScan(platform.Identity{ID: "default"}, h)
	assert.ErrorIs(t, err, platform.ErrBluetoothOff)
}

func TestImmediateScanFailure(t *testing.T) {
	radio := newFakeRadio()
	radio.scanErr = errors.New("org.bluez.Error.InProgress: Operation already in progress")
	p, h, _ := setup(t, radio)

	err := p.StartScan(platform.Identity{ID: "default"}, h)
	assert.ErrorIs(t, err, platform.ErrBusy)
}

func TestLateScanFailure(t *testing.T) {
	radio := newFakeRadio()
	p, h, rec := setup(t, radio)
	id := platform.Identity{ID: "default"}

	require.NoError(t, p.StartScan(id, h))
	radio.crash <- errors.New("dbus: connection closed")

	require.Eventually(t, func() bool {
		_, failures := rec.counts()
		return failures == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		err := p.StartScan(id, h)
		if err == nil {
			_ = p.StopScan(h)
		}
		return err == nil
	}, time.Second, 10*time.Millisecond, "radio is released after a crash")
}

func TestAdapters(t *testing.T) {
	p, _, _ := setup(t, newFakeRadio())
	ids, err := p.Adapters()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "default", ids[0].ID)
	assert.Equal(t, tinygo.Name, p.Name())
}

type fakePayload struct {
	name         string
	raw          []byte
	manufacturer map[uint16][]byte
}

func (f fakePayload) LocalName() string                   { return f.name }
func (f fakePayload) Bytes() []byte                       { return f.raw }
func (f fakePayload) ManufacturerData() map[uint16][]byte { return f.manufacturer }

func TestSnapshotFromResult(t *testing.T) {
	raw := []byte{
		0x02, 0x01, 0x06, // flags
		0x03, 0x03, 0x0D, 0x18, // complete 16-bit service UUIDs: 180d
		0x02, 0x0A, 0x04, // tx power 4 dBm
		0x05, 0x09, 'T', 'e', 's', 't', // complete local name
	}

	t.Run("raw AD structures", func(t *testing.T) {
		snap := tinygo.SnapshotFromResult("AA:BB:CC:DD:EE:FF", -55, fakePayload{raw: raw})

		assert.Equal(t, "AA:BB:CC:DD:EE:FF", snap.Address)
		assert.Equal(t, -55, snap.RSSI)
		assert.Equal(t, "Test", snap.Name, "name falls back to the raw payload")
		assert.Equal(t, []string{"180d"}, snap.Services)
		require.NotNil(t, snap.TxPower)
		assert.Equal(t, 4, *snap.TxPower)
	})

	t.Run("decoded manufacturer data", func(t *testing.T) {
		snap := tinygo.SnapshotFromResult("AA:BB:CC:DD:EE:FF", -55, fakePayload{
			name:         "Beacon",
			manufacturer: map[uint16][]byte{0x004C: {0x02, 0x15}},
		})

		assert.Equal(t, "Beacon", snap.Name)
		assert.Equal(t, map[uint16][]byte{0x004C: {0x02, 0x15}}, snap.ManufacturerData)
		assert.Nil(t, snap.TxPower)
		assert.Empty(t, snap.Services)
	})

	t.Run("no payload", func(t *testing.T) {
		snap := tinygo.SnapshotFromResult("AA:BB:CC:DD:EE:FF", -90, nil)
		assert.Empty(t, snap.Name)
		assert.Equal(t, -90, snap.RSSI)
	})
}
