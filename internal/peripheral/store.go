package peripheral

import (
	"errors"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrEmptyAddress is returned when a sighting carries no address
var ErrEmptyAddress = errors.New("peripheral address is empty")

// Sighting marks whether an observation was the first for its address
type Sighting int

const (
	Found Sighting = iota
	Updated
)

func (s Sighting) String() string {
	if s == Found {
		return "found"
	}
	return "updated"
}

// Store maps addresses to records for a single adapter.
//
// Invariants:
//   - at most one record per address
//   - an address enters the seen set on its first sighting and never leaves it
//   - every seen address has a live record
//
// Records keep discovery order so results are stable across calls.
type Store struct {
	mu      sync.RWMutex
	records *orderedmap.OrderedMap[string, *Record]
	seen    map[string]struct{}
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records: orderedmap.New[string, *Record](),
		seen:    make(map[string]struct{}),
	}
}

// Observe records a sighting and reports whether it was the first one for the
// address. Classification depends only on the address, never on payload.
func (s *Store) Observe(snap Snapshot) (Peripheral, Sighting, error) {
	addr := NormalizeAddress(snap.Address)
	if addr == "" {
		return Peripheral{}, Found, ErrEmptyAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records.Get(addr)
	if !exists {
		rec = NewRecord(snap)
		s.records.Set(addr, rec)
	} else {
		rec.Merge(snap)
	}

	sighting := Updated
	if _, seen := s.seen[addr]; !seen {
		s.seen[addr] = struct{}{}
		sighting = Found
	}

	return rec.View(), sighting, nil
}

// Get returns a copy of the record for an address
func (s *Store) Get(addr string) (Peripheral, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records.Get(NormalizeAddress(addr))
	if !ok {
		return Peripheral{}, false
	}
	return rec.View(), true
}

// Seen reports whether the address has been observed
func (s *Store) Seen(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seen[NormalizeAddress(addr)]
	return ok
}

// Results returns copies of all records in discovery order
func (s *Store) Results() []Peripheral {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Peripheral, 0, s.records.Len())
	for pair := s.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.View())
	}
	return out
}

// Len returns the number of distinct addresses observed
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Len()
}
