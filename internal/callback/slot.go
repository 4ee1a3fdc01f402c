// Package callback holds optional consumer callbacks that are invoked from
// platform threads.
package callback

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrCallbackFailed is the sentinel matched by every *CallbackError
var ErrCallbackFailed = errors.New("callback failed")

// CallbackError reports a panic raised by a consumer callback
//
//nolint:revive // CallbackError reads better than Error at call sites
type CallbackError struct {
	Slot  string
	Value any
	Stack []byte
}

func (e *CallbackError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s: %v", ErrCallbackFailed, e.Slot, e.Value)
}

// Is allows errors.Is(err, ErrCallbackFailed)
func (e *CallbackError) Is(target error) bool {
	return target == ErrCallbackFailed
}

// Unwrap exposes a panic value that was itself an error
func (e *CallbackError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Slot is a thread-safe optional holder for a callback of type F.
//
// Load, Unload and Invoke are mutually exclusive: the callback runs while the
// slot lock is held, so once Unload returns the callback is never invoked
// again. A callback must therefore not Load or Unload its own slot. Slots are
// independent of each other.
type Slot[F any] struct {
	mu     sync.Mutex
	fn     F
	loaded bool
	name   string
	logger *logrus.Logger
}

// NewSlot creates an empty slot. The name appears in failure diagnostics.
func NewSlot[F any](name string, logger *logrus.Logger) *Slot[F] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Slot[F]{name: name, logger: logger}
}

// Load installs fn, replacing any previous callback
func (s *Slot[F]) Load(fn F) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	s.loaded = true
}

// Unload clears the slot
func (s *Slot[F]) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero F
	s.fn = zero
	s.loaded = false
}

// Name returns the slot name given to NewSlot
func (s *Slot[F]) Name() string {
	return s.name
}

// Loaded reports whether a callback is installed
func (s *Slot[F]) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Invoke runs call with the installed callback, if any. A panic inside the
// callback is recovered, logged and returned as a *CallbackError.
func (s *Slot[F]) Invoke(call func(F)) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			cerr := &CallbackError{Slot: s.name, Value: p, Stack: debug.Stack()}
			s.logger.WithFields(logrus.Fields{
				"callback": s.name,
				"panic":    p,
			}).Error("Consumer callback failed")
			err = cerr
		}
	}()

	call(s.fn)
	return nil
}
