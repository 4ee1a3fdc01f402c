//go:build linux

package goble

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/srg/blescan/internal/platform"
)

const sysfsBluetooth = "/sys/class/bluetooth"

// listAdapters reads the HCI controllers the kernel registered
func listAdapters() ([]platform.Identity, error) {
	entries, err := os.ReadDir(sysfsBluetooth)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no bluetooth controllers", platform.ErrUnsupported)
		}
		return nil, err
	}

	ids := make([]platform.Identity, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if _, ok := hciIndex(name); !ok {
			continue
		}
		id := platform.Identity{ID: name, Name: name}
		if addr, err := os.ReadFile(sysfsBluetooth + "/" + name + "/address"); err == nil {
			id.Address = strings.ToUpper(strings.TrimSpace(string(addr)))
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID < ids[j].ID })
	return ids, nil
}

func newDevice(id platform.Identity) (ScanDevice, error) {
	index, ok := hciIndex(id.ID)
	if !ok {
		index = 0
	}
	dev, err := linux.NewDevice(ble.OptDeviceID(index))
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// hciIndex parses "hciN"; controllers with a ':' suffix are sub-devices
func hciIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "hci")
	if !ok || strings.Contains(rest, ":") {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
