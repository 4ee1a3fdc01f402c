package tinygo

import (
	"time"

	"github.com/go-ble/ble/linux/adv"
	"github.com/srg/blescan/internal/peripheral"
)

// Payload is the advertisement data tinygo exposes for a scan result
type Payload interface {
	LocalName() string
	Bytes() []byte
}

// manufacturerPayload is implemented by stacks that decode manufacturer data
type manufacturerPayload interface {
	ManufacturerData() map[uint16][]byte
}

// SnapshotFromResult converts a tinygo scan result into a scan snapshot.
// Raw AD structures, where the stack exposes them, add services and TX power.
func SnapshotFromResult(address string, rssi int16, payload Payload) peripheral.Snapshot {
	snap := peripheral.Snapshot{
		Address:   address,
		RSSI:      int(rssi),
		Timestamp: time.Now(),
	}
	if payload == nil {
		return snap
	}
	snap.Name = payload.LocalName()

	if mp, ok := payload.(manufacturerPayload); ok {
		for company, data := range mp.ManufacturerData() {
			if snap.ManufacturerData == nil {
				snap.ManufacturerData = make(map[uint16][]byte)
			}
			snap.ManufacturerData[company] = append([]byte(nil), data...)
		}
	}

	if raw := payload.Bytes(); len(raw) > 0 {
		packet := adv.NewRawPacket(raw)
		for _, uuid := range packet.UUIDs() {
			snap.Services = append(snap.Services, uuid.String())
		}
		if tx, ok := packet.TxPower(); ok {
			snap.TxPower = &tx
		}
		if snap.Name == "" {
			snap.Name = packet.LocalName()
		}
		if snap.ManufacturerData == nil {
			if company, data, err := peripheral.SplitManufacturerData(packet.ManufacturerData()); err == nil {
				snap.ManufacturerData = map[uint16][]byte{company: data}
			}
		}
	}

	return snap
}
