package peripheral

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// AddressType describes how a peripheral's address was assigned
type AddressType int

const (
	AddressUnspecified AddressType = iota
	AddressPublic
	AddressRandom
)

func (t AddressType) String() string {
	switch t {
	case AddressPublic:
		return "public"
	case AddressRandom:
		return "random"
	default:
		return "unspecified"
	}
}

// MarshalText renders the address type by name in JSON output
func (t AddressType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Snapshot is the payload of a single native scan event.
// Optional fields are nil when the advertisement did not carry them.
type Snapshot struct {
	Address          string
	AddressType      AddressType
	Name             string
	RSSI             int
	TxPower          *int
	Connectable      *bool
	Services         []string
	ManufacturerData map[uint16][]byte
	Timestamp        time.Time
}

// NormalizeAddress returns the canonical key for an address.
// Platforms disagree on hex case, so addresses are keyed in upper case.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// SplitManufacturerData splits a raw manufacturer-specific AD payload into the
// company identifier (first two bytes, little-endian) and the remaining data.
func SplitManufacturerData(raw []byte) (uint16, []byte, error) {
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
	}
	data := make([]byte, len(raw)-2)
	copy(data, raw[2:])
	return binary.LittleEndian.Uint16(raw[0:2]), data, nil
}
