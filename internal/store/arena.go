// Package store keeps the server-side objects a session handed out, addressed
// by opaque identifiers that never expose addresses.
package store

import (
	"errors"
	"fmt"
	"sync"
)

// ID names a stored object on the wire. The high 32 bits carry the slot
// generation and the low 32 bits the slot index plus one, so zero is never a
// valid ID and a released slot's old IDs never resolve again.
type ID uint64

// ErrFull is returned when an arena reached its capacity.
var ErrFull = errors.New("store: arena full")

func makeID(slot int, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(slot+1))
}

func (id ID) split() (slot int, gen uint32) {
	return int(uint32(id)) - 1, uint32(id >> 32)
}

type slot[T comparable] struct {
	gen  uint32
	live bool
	refs int
	val  T
}

// Arena is a generational slot map.
type Arena[T comparable] struct {
	capacity int

	mu    sync.RWMutex
	slots []slot[T]
	free  []int
	index map[T]ID
}

// NewArena returns an arena holding at most capacity live objects.
func NewArena[T comparable](capacity int) *Arena[T] {
	return &Arena[T]{capacity: capacity, index: make(map[T]ID)}
}

// Insert stores v with one reference and returns its new ID.
func (a *Arena[T]) Insert(v T) (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.insertLocked(v)
}

func (a *Arena[T]) insertLocked(v T) (ID, error) {
	var i int
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if len(a.slots) >= a.capacity {
			return 0, fmt.Errorf("%w (%d entries)", ErrFull, a.capacity)
		}
		a.slots = append(a.slots, slot[T]{gen: 1})
		i = len(a.slots) - 1
	}
	s := &a.slots[i]
	s.live = true
	s.refs = 1
	s.val = v
	id := makeID(i, s.gen)
	a.index[v] = id
	return id, nil
}

// Intern returns the ID already assigned to v, inserting v if needed.
// Interning does not add references.
func (a *Arena[T]) Intern(v T) (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.index[v]; ok {
		return id, nil
	}
	return a.insertLocked(v)
}

func (a *Arena[T]) lookupLocked(id ID) *slot[T] {
	i, gen := id.split()
	if i < 0 || i >= len(a.slots) {
		return nil
	}
	s := &a.slots[i]
	if !s.live || s.gen != gen {
		return nil
	}
	return s
}

// Get returns the object stored under id.
func (a *Arena[T]) Get(id ID) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s := a.lookupLocked(id); s != nil {
		return s.val, true
	}
	var zero T
	return zero, false
}

// IDOf returns the ID currently assigned to v.
func (a *Arena[T]) IDOf(v T) (ID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.index[v]
	return id, ok
}

// Retain adds a reference to id.
func (a *Arena[T]) Retain(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.lookupLocked(id)
	if s == nil {
		return false
	}
	s.refs++
	return true
}

// Release drops a reference. The slot is freed, and its generation bumped,
// when the last reference goes. It reports whether id was live and whether
// the slot was freed.
func (a *Arena[T]) Release(id ID) (ok, freed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.lookupLocked(id)
	if s == nil {
		return false, false
	}
	s.refs--
	if s.refs > 0 {
		return true, false
	}
	a.freeLocked(id)
	return true, true
}

func (a *Arena[T]) freeLocked(id ID) {
	i, _ := id.split()
	s := &a.slots[i]
	if a.index[s.val] == id {
		delete(a.index, s.val)
	}
	var zero T
	s.val = zero
	s.live = false
	s.refs = 0
	s.gen++
	a.free = append(a.free, i)
}

// Len returns the number of live objects.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}

// Drain frees every slot and returns the objects with their outstanding
// reference counts.
func (a *Arena[T]) Drain() map[T]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[T]int)
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		out[s.val] += s.refs
		a.freeLocked(makeID(i, s.gen))
	}
	return out
}
