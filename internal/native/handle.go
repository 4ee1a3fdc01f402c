// Package native routes asynchronous platform scan events back to the adapter
// that owns them.
//
// Platforms deliver every scan event through one process-wide entry point
// that carries only an opaque callback handle. Each adapter mints a Handle at
// construction and registers itself under it; the entry points (OnScanResult,
// OnBatchScanResults, OnScanFailed) resolve the handle and forward the event.
// The adapter unregisters when it is closed, after which late events for its
// handle are dropped and logged.
package native

import (
	"fmt"
	"sync/atomic"
)

// Handle identifies a native scan-callback object. It is a lookup key only.
type Handle uint64

var lastHandle atomic.Uint64

// NewHandle returns a handle that is unique within the process
func NewHandle() Handle {
	return Handle(lastHandle.Add(1))
}

func (h Handle) String() string {
	return fmt.Sprintf("scan-callback#%d", uint64(h))
}

// ScanFailure is the error code a platform reports when a scan cannot run.
// Values follow android.bluetooth.le.ScanCallback.
type ScanFailure int

const (
	ScanFailedAlreadyStarted                ScanFailure = 1
	ScanFailedApplicationRegistrationFailed ScanFailure = 2
	ScanFailedInternalError                 ScanFailure = 3
	ScanFailedFeatureUnsupported            ScanFailure = 4
	ScanFailedOutOfHardwareResources        ScanFailure = 5
	ScanFailedScanningTooFrequently         ScanFailure = 6
)

func (f ScanFailure) String() string {
	switch f {
	case ScanFailedAlreadyStarted:
		return "already started"
	case ScanFailedApplicationRegistrationFailed:
		return "application registration failed"
	case ScanFailedInternalError:
		return "internal error"
	case ScanFailedFeatureUnsupported:
		return "feature unsupported"
	case ScanFailedOutOfHardwareResources:
		return "out of hardware resources"
	case ScanFailedScanningTooFrequently:
		return "scanning too frequently"
	default:
		return fmt.Sprintf("unknown failure (%d)", int(f))
	}
}
