package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/srg/blescan/internal/adapter"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
	"github.com/srg/blescan/internal/platform"
	"github.com/srg/blescan/internal/platform/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs the CLI end to end against the simulated backend
type CommandTestSuite struct {
	suite.Suite
}

func (suite *CommandTestSuite) TearDownTest() {
	suite.Zero(native.Default().Len(), "every command MUST unbind its adapters")
}

func (suite *CommandTestSuite) execute(args ...string) (string, string, error) {
	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func (suite *CommandTestSuite) TestScanJSON() {
	out, _, err := suite.execute("scan", "--backend", "sim", "--duration", "300ms", "--format", "json")
	suite.Require().NoError(err)

	var results []map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &results))
	suite.Require().Len(results, len(sim.DefaultBeacons()))

	addresses := make([]string, 0, len(results))
	for _, r := range results {
		addresses = append(addresses, r["address"].(string))
	}
	for _, beacon := range sim.DefaultBeacons() {
		suite.Contains(addresses, beacon.Address)
	}
	suite.Equal("Heart Rate Strap", results[0]["name"])
}

func (suite *CommandTestSuite) TestScanTable() {
	out, _, err := suite.execute("scan", "--backend", "sim", "-d", "200ms")
	suite.Require().NoError(err)

	suite.Contains(out, "NAME")
	suite.Contains(out, "ADDRESS")
	suite.Contains(out, "Heart Rate Strap")
	suite.Contains(out, "(unknown)", "unnamed peripherals are still listed")
	suite.NotContains(out, "\r", "no progress line when stdout is not a terminal")
}

func (suite *CommandTestSuite) TestScanWatch() {
	out, _, err := suite.execute("scan", "--backend", "sim", "--watch", "-d", "450ms")
	suite.Require().NoError(err)

	suite.Contains(out, "Scanning with Simulated Adapter")
	suite.Contains(out, "+ C4:7C:8D:6A:1B:01")
	suite.Contains(out, "~ C4:7C:8D:6A:1B:01", "second beacon burst is an update")
	suite.NotContains(out, "\x1b[", "no colors when stdout is not a terminal")
}

func (suite *CommandTestSuite) TestScanInvalidFormat() {
	_, _, err := suite.execute("scan", "--backend", "sim", "--format", "xml")
	suite.ErrorContains(err, "invalid format 'xml'")
}

func (suite *CommandTestSuite) TestScanInvalidDuration() {
	_, _, err := suite.execute("scan", "--backend", "sim", "--duration", "0s")
	suite.ErrorContains(err, "invalid duration")
}

func (suite *CommandTestSuite) TestScanUnknownAdapter() {
	_, _, err := suite.execute("scan", "--backend", "sim", "--adapter", "hci7", "-d", "100ms")
	suite.ErrorIs(err, ErrUnknownAdapter)
}

func (suite *CommandTestSuite) TestScanWithMetricsServer() {
	_, _, err := suite.execute("scan", "--backend", "sim", "-d", "100ms", "--metrics-addr", "127.0.0.1:0")
	suite.NoError(err)
}

func (suite *CommandTestSuite) TestScanBackendFromConfigFile() {
	path := filepath.Join(suite.T().TempDir(), "blescan.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("backend: sim\nscan_duration: 200ms\noutput_format: json\n"), 0o600))

	out, _, err := suite.execute("scan", "--config", path)
	suite.Require().NoError(err)
	suite.True(strings.HasPrefix(strings.TrimSpace(out), "["), "output_format from the file is honoured")
}

func (suite *CommandTestSuite) TestInvalidGlobalFlags() {
	_, _, err := suite.execute("scan", "--backend", "bluez")
	suite.ErrorContains(err, "backend")

	_, _, err = suite.execute("scan", "--backend", "sim", "--registry-mode", "lenient")
	suite.ErrorContains(err, "registry_mode")
}

func (suite *CommandTestSuite) TestAdaptersJSON() {
	out, _, err := suite.execute("adapters", "--backend", "sim", "--format", "json")
	suite.Require().NoError(err)

	var reports []map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &reports))
	suite.Require().Len(reports, 1)
	suite.Equal("hci0", reports[0]["id"])
	suite.Equal("Simulated Adapter", reports[0]["name"])
	suite.EqualValues(0, reports[0]["paired"])
	suite.Equal(true, reports[0]["enabled"])
}

func (suite *CommandTestSuite) TestAdaptersTable() {
	out, _, err := suite.execute("adapters", "--backend", "sim")
	suite.Require().NoError(err)
	suite.Contains(out, "hci0")
	suite.Contains(out, "00:00:5E:00:53:00")
	suite.Contains(out, "BLUETOOTH")
	suite.Contains(out, " on ")
}

func (suite *CommandTestSuite) TestScanDisplayFilters() {
	out, _, err := suite.execute("scan", "--backend", "sim", "-d", "200ms", "--format", "json", "--services", "180D")
	suite.Require().NoError(err)
	var results []map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(out), &results))
	suite.Require().Len(results, 1)
	suite.Equal("C4:7C:8D:6A:1B:01", results[0]["address"])

	out, _, err = suite.execute("scan", "--backend", "sim", "-d", "200ms", "--format", "json",
		"--block", "c4:7c:8d:6a:1b:01")
	suite.Require().NoError(err)
	results = nil
	suite.Require().NoError(json.Unmarshal([]byte(out), &results))
	suite.Len(results, len(sim.DefaultBeacons())-1, "block list matches addresses in any case")

	out, _, err = suite.execute("scan", "--backend", "sim", "--watch", "-d", "300ms",
		"--allow", "F0:12:34:56:78:9A")
	suite.Require().NoError(err)
	suite.Contains(out, "+ F0:12:34:56:78:9A")
	suite.NotContains(out, "C4:7C:8D:6A:1B:01")
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestDisplayFilter(t *testing.T) {
	heartRate := peripheral.FromSnapshot(peripheral.Snapshot{
		Address:  "C4:7C:8D:6A:1B:01",
		Services: []string{"0000180d-0000-1000-8000-00805f9b34fb"},
	})
	anonymous := peripheral.FromSnapshot(peripheral.Snapshot{Address: "5A:0B:C2:11:22:33"})

	tests := []struct {
		name     string
		filter   *displayFilter
		expected []bool
	}{
		{name: "no filter", filter: newDisplayFilter(nil, nil, nil), expected: []bool{true, true}},
		{name: "service short form", filter: newDisplayFilter([]string{"180d"}, nil, nil), expected: []bool{true, false}},
		{name: "allow", filter: newDisplayFilter(nil, []string{"5a:0b:c2:11:22:33"}, nil), expected: []bool{false, true}},
		{name: "block wins over allow", filter: newDisplayFilter(nil, []string{"5A:0B:C2:11:22:33"}, []string{"5A:0B:C2:11:22:33"}), expected: []bool{false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, []bool{tt.filter.Match(heartRate), tt.filter.Match(anonymous)})
		})
	}

	assert.Len(t, newDisplayFilter([]string{"180D"}, nil, nil).Apply([]peripheral.Peripheral{heartRate, anonymous}), 1)
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{name: "bluetooth off", err: fmt.Errorf("start: %w", platform.ErrBluetoothOff), contains: "turned off"},
		{name: "permission", err: platform.ErrPermissionDenied, contains: "Permission"},
		{name: "unsupported", err: platform.ErrUnsupported, contains: "--backend"},
		{name: "busy", err: platform.ErrBusy, contains: "busy"},
		{
			name:     "adapter unavailable",
			err:      &adapter.AdapterUnavailableError{Adapter: "hci0", Err: errors.New("boom")},
			contains: "Adapter unavailable",
		},
		{name: "other", err: errors.New("something else"), contains: "something else"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestProgressPrinter(t *testing.T) {
	buf := &syncBuffer{}
	p := newProgressPrinter(buf, "Scanning", 0)
	p.Found()
	p.Found()
	p.Start()
	p.Stop()
	p.Stop()

	out := buf.String()
	require.Contains(t, out, "Scanning (0s left, 2 found)")
	assert.True(t, strings.HasSuffix(out, clearLineSequence))
}

// syncBuffer is a bytes.Buffer safe for the progress goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
