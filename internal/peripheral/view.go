package peripheral

import (
	"encoding/json"
	"sort"
	"time"
)

// Peripheral is a read-only view of a peripheral handed to consumers.
// It is a value copy: holding it never keeps the adapter's record alive and
// concurrent sightings never mutate it.
type Peripheral struct {
	address          string
	addressType      AddressType
	name             string
	rssi             int
	txPower          *int
	connectable      bool
	paired           bool
	services         []string
	manufacturerData map[uint16][]byte
	firstSeen        time.Time
	lastSeen         time.Time
	sightings        uint64
}

// Identifier returns the advertised name, falling back to the address
func (p Peripheral) Identifier() string {
	if p.name == "" {
		return p.address
	}
	return p.name
}

func (p Peripheral) Name() string             { return p.name }
func (p Peripheral) Address() string          { return p.address }
func (p Peripheral) AddressType() AddressType { return p.addressType }
func (p Peripheral) RSSI() int                { return p.rssi }
func (p Peripheral) IsConnectable() bool      { return p.connectable }
func (p Peripheral) IsPaired() bool           { return p.paired }
func (p Peripheral) FirstSeen() time.Time     { return p.firstSeen }
func (p Peripheral) LastSeen() time.Time      { return p.lastSeen }
func (p Peripheral) Sightings() uint64        { return p.sightings }

// TxPower returns the advertised TX power level, nil if never advertised
func (p Peripheral) TxPower() *int {
	if p.txPower == nil {
		return nil
	}
	tx := *p.txPower
	return &tx
}

// AdvertisedServices returns the sorted union of advertised service UUIDs
func (p Peripheral) AdvertisedServices() []string {
	return append([]string(nil), p.services...)
}

// ManufacturerData returns manufacturer data keyed by company identifier
func (p Peripheral) ManufacturerData() map[uint16][]byte {
	out := make(map[uint16][]byte, len(p.manufacturerData))
	for company, data := range p.manufacturerData {
		out[company] = append([]byte(nil), data...)
	}
	return out
}

// WithPaired returns a copy of the view with the paired flag set
func (p Peripheral) WithPaired(paired bool) Peripheral {
	p.paired = paired
	return p
}

type manufacturerJSON struct {
	CompanyID uint16 `json:"company_id"`
	Data      []byte `json:"data"`
}

type peripheralJSON struct {
	Address          string             `json:"address"`
	AddressType      AddressType        `json:"address_type"`
	Name             string             `json:"name,omitempty"`
	RSSI             int                `json:"rssi"`
	TxPower          *int               `json:"tx_power,omitempty"`
	Connectable      bool               `json:"connectable"`
	Paired           bool               `json:"paired"`
	Services         []string           `json:"services"`
	ManufacturerData []manufacturerJSON `json:"manufacturer_data,omitempty"`
	LastSeen         time.Time          `json:"last_seen"`
	Sightings        uint64             `json:"sightings"`
}

// MarshalJSON renders the view with manufacturer data ordered by company ID
func (p Peripheral) MarshalJSON() ([]byte, error) {
	out := peripheralJSON{
		Address:     p.address,
		AddressType: p.addressType,
		Name:        p.name,
		RSSI:        p.rssi,
		TxPower:     p.txPower,
		Connectable: p.connectable,
		Paired:      p.paired,
		Services:    p.services,
		LastSeen:    p.lastSeen,
		Sightings:   p.sightings,
	}
	if out.Services == nil {
		out.Services = []string{}
	}

	companies := make([]int, 0, len(p.manufacturerData))
	for company := range p.manufacturerData {
		companies = append(companies, int(company))
	}
	sort.Ints(companies)
	for _, company := range companies {
		out.ManufacturerData = append(out.ManufacturerData, manufacturerJSON{
			CompanyID: uint16(company),
			Data:      p.manufacturerData[uint16(company)],
		})
	}

	return json.Marshal(out)
}

// FromSnapshot builds a standalone view for a peripheral the adapter has not
// sighted, e.g. a bonded device reported by the platform.
func FromSnapshot(s Snapshot) Peripheral {
	return NewRecord(s).View()
}
