//go:build darwin

package goble

import (
	"github.com/go-ble/ble/darwin"
	"github.com/srg/blescan/internal/platform"
)

// CoreBluetooth exposes a single central manager
func listAdapters() ([]platform.Identity, error) {
	return []platform.Identity{{ID: "default", Name: "CoreBluetooth"}}, nil
}

func newDevice(platform.Identity) (ScanDevice, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
