// Package platform defines the contract between the scan core and the native
// Bluetooth stack. Backends live in sub-packages and deliver scan events
// through the process-wide entry points of package native.
package platform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
)

// Identity describes one adapter exposed by the platform
type Identity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Platform arms and disarms native scanners. StartScan must return promptly
// and report synchronously when the scanner cannot be armed; scan events for
// h are delivered afterwards via native.OnScanResult and friends.
type Platform interface {
	Name() string
	Adapters() ([]Identity, error)
	StartScan(id Identity, h native.Handle) error
	StopScan(h native.Handle) error
}

// PairedLister is implemented by platforms that can report bonded peripherals
type PairedLister interface {
	PairedPeripherals(id Identity) ([]peripheral.Snapshot, error)
}

// EnabledChecker is implemented by platforms that can tell whether the
// radio behind an adapter is powered on
type EnabledChecker interface {
	BluetoothEnabled(id Identity) (bool, error)
}

// Platform errors
var (
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrPermissionDenied = errors.New("bluetooth permission denied")
	ErrUnsupported      = errors.New("unsupported")
	ErrBusy             = errors.New("scanner busy")
)

// NormalizeError maps known native error strings onto the platform sentinels.
// The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBluetoothOff) || errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrUnsupported) || errors.Is(err, ErrBusy) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "org.bluez.Error.NotReady"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"),
		containsIgnoreCase(msg, "unauthorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "operation already in progress"),
		containsIgnoreCase(msg, "org.bluez.Error.InProgress"):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
