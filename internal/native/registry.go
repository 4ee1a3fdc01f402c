package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/peripheral"
)

// Receiver is the owner side of a registration. Implementations are used as
// map keys and must be comparable (in practice, pointers).
type Receiver interface {
	HandleScanResult(snap peripheral.Snapshot)
	HandleBatchScanResults(snaps []peripheral.Snapshot)
	HandleScanFailed(code ScanFailure)
}

// Mode selects how Register treats a pairing that would break the bijection
type Mode int

const (
	// Strict rejects conflicting registrations with a *ConflictError
	Strict Mode = iota
	// Permissive overwrites conflicting registrations, dropping stale pairings
	Permissive
)

// ParseMode maps a configuration string to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "strict":
		return Strict, nil
	case "permissive":
		return Permissive, nil
	default:
		return Strict, fmt.Errorf("invalid registry mode: %s (must be strict or permissive)", s)
	}
}

// ErrConflict is the sentinel matched by every *ConflictError
var ErrConflict = errors.New("native callback registration conflict")

// ConflictError reports a registration that would map one handle to two
// owners or one owner to two handles.
type ConflictError struct {
	Handle   Handle
	Existing Handle // set when the owner is already registered under another handle
	Msg      string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s: %s", ErrConflict, e.Handle, e.Msg)
}

// Is allows errors.Is(err, ErrConflict)
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Registry maps handles to their owning receivers. The mapping is a bijection
// at all times; a single lock covers both directions.
type Registry struct {
	mu      sync.RWMutex
	owners  map[Handle]Receiver
	handles map[Receiver]Handle
	mode    Mode
	logger  *logrus.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logrus.Logger, mode Mode) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		owners:  make(map[Handle]Receiver),
		handles: make(map[Receiver]Handle),
		mode:    mode,
		logger:  logger,
	}
}

// SetMode changes the conflict policy for subsequent registrations
func (r *Registry) SetMode(mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// SetLogger replaces the logger used for dispatch diagnostics
func (r *Registry) SetLogger(logger *logrus.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register binds a handle to its owner. Re-registering an identical pair is a
// no-op.
func (r *Registry) Register(h Handle, owner Receiver) error {
	if owner == nil {
		return fmt.Errorf("cannot register %s: owner is nil", h)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, handleBound := r.owners[h]
	previous, ownerBound := r.handles[owner]

	if handleBound && current == owner {
		return nil
	}

	if r.mode == Strict {
		if handleBound {
			return &ConflictError{Handle: h, Msg: "handle already bound to another owner"}
		}
		if ownerBound {
			return &ConflictError{Handle: h, Existing: previous, Msg: fmt.Sprintf("owner already bound to %s", previous)}
		}
	}

	if handleBound {
		delete(r.handles, current)
	}
	if ownerBound {
		delete(r.owners, previous)
	}
	if handleBound || ownerBound {
		r.logger.WithField("handle", h).Debug("Overwrote native callback registration")
	}

	r.owners[h] = owner
	r.handles[owner] = h
	return nil
}

// Unregister removes the binding for a handle. Unknown handles are ignored.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[h]
	if !ok {
		return
	}
	delete(r.owners, h)
	delete(r.handles, owner)
}

// Resolve returns the owner bound to a handle
func (r *Registry) Resolve(h Handle) (Receiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[h]
	return owner, ok
}

// Len returns the number of live bindings
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) log() *logrus.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}
