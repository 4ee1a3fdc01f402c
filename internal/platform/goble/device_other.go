//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/blescan/internal/platform"
)

func listAdapters() ([]platform.Identity, error) {
	return nil, fmt.Errorf("%w: go-ble has no %s backend", platform.ErrUnsupported, runtime.GOOS)
}

func newDevice(platform.Identity) (ScanDevice, error) {
	return nil, fmt.Errorf("%w: go-ble has no %s backend", platform.ErrUnsupported, runtime.GOOS)
}
