package sim_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
	"github.com/srg/blescan/internal/platform/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	results  []peripheral.Snapshot
	batches  int
	failures []native.ScanFailure
}

func (r *recorder) HandleScanResult(s peripheral.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, s)
}

func (r *recorder) HandleBatchScanResults(snaps []peripheral.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	r.results = append(r.results, snaps...)
}

func (r *recorder) HandleScanFailed(code native.ScanFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, code)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func register(t *testing.T) (native.Handle, *recorder) {
	t.Helper()
	h := native.NewHandle()
	rec := &recorder{}
	require.NoError(t, native.Default().Register(h, rec))
	t.Cleanup(func() { native.Default().Unregister(h) })
	return h, rec
}

func newPlatform(cfg sim.Config) *sim.Platform {
	logger, _ := test.NewNullLogger()
	cfg.Logger = logger
	return sim.New(cfg)
}

func TestAdaptersDefault(t *testing.T) {
	p := newPlatform(sim.Config{})

	ids, err := p.Adapters()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "hci0", ids[0].ID)
	assert.Equal(t, sim.Name, p.Name())
}

func TestStartStop(t *testing.T) {
	p := newPlatform(sim.Config{})
	id := platform.Identity{ID: "hci0"}
	h := native.NewHandle()

	require.NoError(t, p.StartScan(id, h))
	assert.True(t, p.Armed(h))
	assert.Equal(t, 1, p.ArmedCount())

	err := p.StartScan(id, h)
	assert.ErrorIs(t, err, platform.ErrBusy, "arming twice must report busy")

	require.NoError(t, p.StopScan(h))
	assert.False(t, p.Armed(h))
	assert.NoError(t, p.StopScan(h), "stopping a disarmed handle is not an error")
}

func TestRearmAfterDisarm(t *testing.T) {
	p := newPlatform(sim.Config{})
	id := platform.Identity{ID: "hci0"}
	h, _ := register(t)

	require.NoError(t, p.StartScan(id, h))
	require.NoError(t, p.StopScan(h))
	require.NoError(t, p.StartScan(id, h), "a stopped handle can be armed again")
	assert.True(t, p.Armed(h))

	p.Fail(h, native.ScanFailedInternalError)
	require.False(t, p.Armed(h))
	require.NoError(t, p.StartScan(id, h), "a failed handle can be armed again")
	assert.ErrorIs(t, p.StartScan(id, h), platform.ErrBusy)
	require.NoError(t, p.StopScan(h))
}

func TestSetEnabled(t *testing.T) {
	p := newPlatform(sim.Config{})
	id := platform.Identity{ID: "hci0"}
	h := native.NewHandle()

	enabled, err := p.BluetoothEnabled(id)
	require.NoError(t, err)
	assert.True(t, enabled, "radios start powered on")

	p.SetEnabled("hci0", false)
	enabled, err = p.BluetoothEnabled(id)
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.ErrorIs(t, p.StartScan(id, h), platform.ErrBluetoothOff)
	assert.False(t, p.Armed(h))

	p.SetEnabled("hci0", true)
	require.NoError(t, p.StartScan(id, h))
	require.NoError(t, p.StopScan(h))
}

func TestFailStartAndStop(t *testing.T) {
	p := newPlatform(sim.Config{})
	id := platform.Identity{ID: "hci0"}
	h := native.NewHandle()

	p.FailStart("hci0", platform.ErrPermissionDenied)
	assert.ErrorIs(t, p.StartScan(id, h), platform.ErrPermissionDenied)
	assert.False(t, p.Armed(h))

	p.FailStart("hci0", nil)
	require.NoError(t, p.StartScan(id, h))

	stopErr := errors.New("stop failed")
	p.FailStop("hci0", stopErr)
	assert.ErrorIs(t, p.StopScan(h), stopErr)
	assert.False(t, p.Armed(h), "a failed stop still disarms")
}

func TestEmitRoutesThroughRegistry(t *testing.T) {
	p := newPlatform(sim.Config{})
	h, rec := register(t)

	ok := p.Emit(h,
		peripheral.Snapshot{Address: "AA:BB:CC:DD:EE:01", RSSI: -60},
		peripheral.Snapshot{Address: "AA:BB:CC:DD:EE:02", RSSI: -70},
	)
	require.True(t, ok)
	require.Equal(t, 2, rec.count())
	assert.False(t, rec.results[0].Timestamp.IsZero(), "Emit stamps missing timestamps")

	require.True(t, p.EmitBatch(h, peripheral.Snapshot{Address: "AA:BB:CC:DD:EE:03"}))
	assert.Equal(t, 1, rec.batches)
	assert.Equal(t, 3, rec.count())

	assert.False(t, p.Emit(native.NewHandle(), peripheral.Snapshot{Address: "AA"}), "unknown handle is not delivered")
}

func TestFailDisarms(t *testing.T) {
	p := newPlatform(sim.Config{})
	h, rec := register(t)
	require.NoError(t, p.StartScan(platform.Identity{ID: "hci0"}, h))

	require.True(t, p.Fail(h, native.ScanFailedAlreadyStarted))
	assert.True(t, p.Armed(h), "already-started leaves the running scan alone")

	require.True(t, p.Fail(h, native.ScanFailedInternalError))
	assert.False(t, p.Armed(h))
	assert.Equal(t, []native.ScanFailure{native.ScanFailedAlreadyStarted, native.ScanFailedInternalError}, rec.failures)
}

func TestBeaconsAdvertiseWhileArmed(t *testing.T) {
	p := newPlatform(sim.Config{Beacons: sim.DefaultBeacons(), Interval: 5 * time.Millisecond})
	h, rec := register(t)

	require.NoError(t, p.StartScan(platform.Identity{ID: "hci0"}, h))
	require.Eventually(t, func() bool { return rec.count() >= 2*len(sim.DefaultBeacons()) },
		time.Second, 5*time.Millisecond)

	require.NoError(t, p.StopScan(h))
	stopped := rec.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, rec.count(), "no beacons after StopScan returned")
}

func TestPairedPeripherals(t *testing.T) {
	p := newPlatform(sim.Config{})
	id := platform.Identity{ID: "hci0"}

	snaps, err := p.PairedPeripherals(id)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	p.SetPaired("hci0", peripheral.Snapshot{Address: "11:22:33:44:55:66", Name: "Keyboard"})
	snaps, err = p.PairedPeripherals(id)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "Keyboard", snaps[0].Name)
}
