package sim

import "github.com/srg/blescan/internal/peripheral"

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// DefaultBeacons returns a small, fixed neighbourhood of advertisers
func DefaultBeacons() []peripheral.Snapshot {
	return []peripheral.Snapshot{
		{
			Address:     "C4:7C:8D:6A:1B:01",
			AddressType: peripheral.AddressPublic,
			Name:        "Heart Rate Strap",
			RSSI:        -58,
			TxPower:     intPtr(4),
			Connectable: boolPtr(true),
			Services:    []string{"180d", "180f"},
		},
		{
			Address:     "F0:12:34:56:78:9A",
			AddressType: peripheral.AddressRandom,
			Name:        "Nordic_UART",
			RSSI:        -71,
			Connectable: boolPtr(true),
			Services:    []string{"6E400001-B5A3-F393-E0A9-E50E24DCCA9E"},
		},
		{
			Address:     "5A:0B:C2:11:22:33",
			AddressType: peripheral.AddressRandom,
			RSSI:        -84,
			Connectable: boolPtr(false),
			ManufacturerData: map[uint16][]byte{
				0x004c: {0x02, 0x15, 0xe2, 0xc5, 0x6d, 0xb5},
			},
		},
	}
}
