package adapter

import (
	"time"

	"github.com/srg/blescan/internal/native"
	"github.com/srg/blescan/internal/peripheral"
)

// EventType marks what an Event reports
type EventType int

const (
	EventFound EventType = iota
	EventUpdated
	EventScanFailed
)

func (t EventType) String() string {
	switch t {
	case EventFound:
		return "found"
	case EventUpdated:
		return "updated"
	case EventScanFailed:
		return "scan_failed"
	default:
		return "unknown"
	}
}

// Event is published on Adapter.Events for consumers that prefer a queue over
// callbacks. Peripheral is zero for EventScanFailed.
type Event struct {
	Type       EventType
	Adapter    string
	Peripheral peripheral.Peripheral
	Failure    native.ScanFailure
	Timestamp  time.Time
}
