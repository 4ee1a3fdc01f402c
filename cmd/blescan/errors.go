package main

import (
	"errors"
	"fmt"

	"github.com/srg/blescan/internal/adapter"
	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/platform"
)

// Command-level errors
var (
	// ErrNoAdapters is returned when the platform exposes no adapter at all
	ErrNoAdapters = errors.New("no bluetooth adapters found")
	// ErrUnknownAdapter is returned when --adapter names an adapter the platform does not expose
	ErrUnknownAdapter = errors.New("unknown adapter")
)

// FormatUserError turns known failures into one actionable line
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, platform.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, platform.ErrPermissionDenied):
		return "Permission to use Bluetooth was denied. On Linux run with CAP_NET_ADMIN or as root; on macOS allow Bluetooth access for your terminal."
	case errors.Is(err, platform.ErrUnsupported):
		return fmt.Sprintf("This backend is not supported here (%v). Try --backend tinygo or --backend sim.", err)
	case errors.Is(err, platform.ErrBusy):
		return "The Bluetooth scanner is busy. Another scan may already be running."
	case errors.Is(err, native.ErrConflict):
		return fmt.Sprintf("Internal handle conflict: %v", err)
	case errors.Is(err, adapter.ErrAdapterUnavailable):
		return fmt.Sprintf("Adapter unavailable: %v", err)
	default:
		return err.Error()
	}
}
