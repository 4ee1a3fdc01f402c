package main

import (
	"slices"

	"github.com/srg/blescan/internal/peripheral"
)

// displayFilter selects which peripherals are printed. It is applied to output
// only; every advertisement still reaches the adapter's table.
type displayFilter struct {
	services []string
	allow    map[string]struct{}
	block    map[string]struct{}
}

func newDisplayFilter(services, allow, block []string) *displayFilter {
	f := &displayFilter{
		allow: make(map[string]struct{}, len(allow)),
		block: make(map[string]struct{}, len(block)),
	}
	for _, s := range services {
		if uuid := peripheral.NormalizeUUID(s); uuid != "" {
			f.services = append(f.services, uuid)
		}
	}
	for _, addr := range allow {
		f.allow[peripheral.NormalizeAddress(addr)] = struct{}{}
	}
	for _, addr := range block {
		f.block[peripheral.NormalizeAddress(addr)] = struct{}{}
	}
	return f
}

// Match applies the block list, then the allow list, then the service filter
func (f *displayFilter) Match(p peripheral.Peripheral) bool {
	addr := peripheral.NormalizeAddress(p.Address())
	if _, blocked := f.block[addr]; blocked {
		return false
	}
	if len(f.allow) > 0 {
		if _, allowed := f.allow[addr]; !allowed {
			return false
		}
	}
	if len(f.services) == 0 {
		return true
	}
	advertised := p.AdvertisedServices()
	for _, required := range f.services {
		if slices.Contains(advertised, required) {
			return true
		}
	}
	return false
}

func (f *displayFilter) Apply(results []peripheral.Peripheral) []peripheral.Peripheral {
	out := make([]peripheral.Peripheral, 0, len(results))
	for _, p := range results {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}
