package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blescan/internal/peripheral"
)

// txPowerUnavailable is the value go-ble reports when the advertisement
// carries no TX power level
const txPowerUnavailable = 127

// SnapshotFromAdvertisement converts a go-ble advertisement into a scan snapshot
func SnapshotFromAdvertisement(adv ble.Advertisement) peripheral.Snapshot {
	snap := peripheral.Snapshot{
		Name:      adv.LocalName(),
		RSSI:      adv.RSSI(),
		Timestamp: time.Now(),
	}
	if addr := adv.Addr(); addr != nil {
		snap.Address = addr.String()
	}

	connectable := adv.Connectable()
	snap.Connectable = &connectable

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		snap.TxPower = &tx
	}

	for _, uuid := range adv.Services() {
		snap.Services = append(snap.Services, uuid.String())
	}
	for _, uuid := range adv.OverflowService() {
		snap.Services = append(snap.Services, uuid.String())
	}

	if raw := adv.ManufacturerData(); len(raw) > 0 {
		if company, data, err := peripheral.SplitManufacturerData(raw); err == nil {
			snap.ManufacturerData = map[uint16][]byte{company: data}
		}
	}

	return snap
}
