package peripheral

import (
	"sort"
	"time"
)

// Record accumulates the latest observed state of one peripheral across
// repeated sightings. It is not safe for concurrent use; Store guards it.
type Record struct {
	address          string
	addressType      AddressType
	name             string
	rssi             int
	txPower          *int
	connectable      bool
	services         []string
	manufacturerData map[uint16][]byte
	firstSeen        time.Time
	lastSeen         time.Time
	sightings        uint64
}

// NewRecord creates a record from the first sighting of an address
func NewRecord(s Snapshot) *Record {
	r := &Record{
		address:          NormalizeAddress(s.Address),
		services:         make([]string, 0, len(s.Services)),
		manufacturerData: make(map[uint16][]byte, len(s.ManufacturerData)),
		firstSeen:        s.Timestamp,
	}
	if r.firstSeen.IsZero() {
		r.firstSeen = time.Now()
	}
	r.Merge(s)
	return r
}

// Merge folds a sighting into the record:
//   - RSSI and timestamp are replaced
//   - name is replaced only by a non-empty name
//   - address type, TX power and connectable are replaced when present
//   - advertised services are unioned (never shrink)
//   - manufacturer data is overwritten per company identifier
func (r *Record) Merge(s Snapshot) {
	r.rssi = s.RSSI
	r.sightings++

	r.lastSeen = s.Timestamp
	if r.lastSeen.IsZero() {
		r.lastSeen = time.Now()
	}

	if s.Name != "" {
		r.name = s.Name
	}
	if s.AddressType != AddressUnspecified {
		r.addressType = s.AddressType
	}
	if s.TxPower != nil {
		tx := *s.TxPower
		r.txPower = &tx
	}
	if s.Connectable != nil {
		r.connectable = *s.Connectable
	}

	needsSort := false
	for _, svc := range s.Services {
		uuid := NormalizeUUID(svc)
		if uuid == "" || r.hasService(uuid) {
			continue
		}
		r.services = append(r.services, uuid)
		needsSort = true
	}
	if needsSort {
		sort.Strings(r.services)
	}

	for company, data := range s.ManufacturerData {
		r.manufacturerData[company] = append([]byte(nil), data...)
	}
}

func (r *Record) hasService(uuid string) bool {
	i := sort.SearchStrings(r.services, uuid)
	return i < len(r.services) && r.services[i] == uuid
}

// Address returns the normalized address the record is keyed by
func (r *Record) Address() string {
	return r.address
}

// View returns a detached copy of the record
func (r *Record) View() Peripheral {
	p := Peripheral{
		address:     r.address,
		addressType: r.addressType,
		name:        r.name,
		rssi:        r.rssi,
		connectable: r.connectable,
		services:    append([]string(nil), r.services...),
		firstSeen:   r.firstSeen,
		lastSeen:    r.lastSeen,
		sightings:   r.sightings,
	}
	if r.txPower != nil {
		tx := *r.txPower
		p.txPower = &tx
	}
	if len(r.manufacturerData) > 0 {
		p.manufacturerData = make(map[uint16][]byte, len(r.manufacturerData))
		for company, data := range r.manufacturerData {
			p.manufacturerData[company] = append([]byte(nil), data...)
		}
	}
	return p
}
