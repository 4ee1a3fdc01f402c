package peripheral

import (
	"strings"

	"github.com/go-ble/ble"
)

// NormalizeUUID converts a UUID string to the go-ble canonical form
// (lowercase, no dashes, 16-bit short form for Bluetooth SIG base UUIDs).
// Strings go-ble cannot parse are kept lowercased so they still dedupe.
func NormalizeUUID(uuid string) string {
	s := strings.TrimSpace(uuid)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return ""
	}

	parsed, err := ble.Parse(s)
	if err != nil {
		return strings.ToLower(strings.ReplaceAll(s, "-", ""))
	}
	if short := shortenSIG(parsed); short != nil {
		parsed = short
	}
	return parsed.String()
}

// sigBase is the Bluetooth SIG base UUID in go-ble byte order (little-endian)
var sigBase = ble.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// shortenSIG returns the 16-bit form of a 128-bit UUID built on the
// Bluetooth SIG base (0000xxxx-0000-1000-8000-00805f9b34fb), nil otherwise.
func shortenSIG(u ble.UUID) ble.UUID {
	if len(u) != 16 {
		return nil
	}
	for i := 0; i < 12; i++ {
		if u[i] != sigBase[i] {
			return nil
		}
	}
	if u[14] != 0 || u[15] != 0 {
		return nil
	}
	return ble.UUID{u[12], u[13]}
}
