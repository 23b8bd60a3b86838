package backend

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SlotError reports use of a freed or invalid slot. It is fatal for the
// program being executed; there is no recovery at this level.
type SlotError struct {
	ID int
	Op string
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("slot %d: %s after free", e.ID, e.Op)
}

var slotIDs atomic.Int64

// Slot is a reference-counted handle to one device buffer. The handle
// payload is owned by the backend that created the slot; the core only
// moves slots around and manages their lifetime through the backend.
type Slot struct {
	id   int
	size int

	mu     sync.Mutex
	refs   int
	freed  bool
	handle any
}

// NewSlot wraps a backend buffer handle with refcount 1.
func NewSlot(byteSize int, handle any) *Slot {
	return &Slot{
		id:     int(slotIDs.Add(1)),
		size:   byteSize,
		refs:   1,
		handle: handle,
	}
}

// ID returns the process-unique slot id.
func (s *Slot) ID() int { return s.id }

// Size returns the buffer size in bytes.
func (s *Slot) Size() int { return s.size }

// Handle returns the backend buffer payload.
func (s *Slot) Handle() (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freed {
		return nil, &SlotError{ID: s.id, Op: "access"}
	}
	return s.handle, nil
}

// Retain increments the refcount.
func (s *Slot) Retain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freed {
		return &SlotError{ID: s.id, Op: "incRef"}
	}
	s.refs++
	return nil
}

// Release decrements the refcount. It reports whether this was the last
// reference; the caller then frees the underlying buffer exactly once.
func (s *Slot) Release() (last bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freed {
		return false, &SlotError{ID: s.id, Op: "decRef"}
	}
	s.refs--
	if s.refs == 0 {
		s.freed = true
		return true, nil
	}
	return false, nil
}

// Refs returns the current refcount.
func (s *Slot) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
