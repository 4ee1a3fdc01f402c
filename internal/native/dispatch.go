package native

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/peripheral"
)

var defaultRegistry = NewRegistry(logrus.StandardLogger(), Strict)

// Default returns the process-wide registry used by the On* entry points
func Default() *Registry {
	return defaultRegistry
}

// OnScanResult is the process-wide entry point for a single scan result
func OnScanResult(h Handle, snap peripheral.Snapshot) bool {
	return defaultRegistry.DispatchScanResult(h, snap)
}

// OnBatchScanResults is the process-wide entry point for batched results
func OnBatchScanResults(h Handle, snaps []peripheral.Snapshot) bool {
	return defaultRegistry.DispatchBatchScanResults(h, snaps)
}

// OnScanFailed is the process-wide entry point for scan failures
func OnScanFailed(h Handle, code ScanFailure) bool {
	return defaultRegistry.DispatchScanFailed(h, code)
}

// DispatchScanResult forwards a result to the owner of h. It reports false
// when the handle did not resolve and the event was dropped.
func (r *Registry) DispatchScanResult(h Handle, snap peripheral.Snapshot) bool {
	return r.dispatch(h, "scan_result", func(owner Receiver) {
		owner.HandleScanResult(snap)
	})
}

// DispatchBatchScanResults forwards a batch to the owner of h
func (r *Registry) DispatchBatchScanResults(h Handle, snaps []peripheral.Snapshot) bool {
	return r.dispatch(h, "batch_scan_results", func(owner Receiver) {
		owner.HandleBatchScanResults(snaps)
	})
}

// DispatchScanFailed forwards a failure code to the owner of h
func (r *Registry) DispatchScanFailed(h Handle, code ScanFailure) bool {
	return r.dispatch(h, "scan_failed", func(owner Receiver) {
		owner.HandleScanFailed(code)
	})
}

// dispatch resolves under the lock and calls the owner outside it, so owners
// may register or unregister from their handlers. It runs on the platform's
// thread: nothing escapes it.
func (r *Registry) dispatch(h Handle, kind string, deliver func(Receiver)) (delivered bool) {
	owner, ok := r.Resolve(h)
	if !ok {
		r.log().WithFields(logrus.Fields{
			"handle": h,
			"event":  kind,
		}).Warn("Dropped native scan event: handle not registered")
		return false
	}

	defer func() {
		if p := recover(); p != nil {
			r.log().WithFields(logrus.Fields{
				"handle": h,
				"event":  kind,
				"panic":  p,
			}).Error("Recovered panic in native scan event handler")
		}
	}()

	deliver(owner)
	return true
}
