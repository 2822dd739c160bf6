package store

import (
	"github.com/fxnlabs/ocland/internal/cl"
)

// Object is a runtime object as the store sees it.
type Object = any

// Capacities bounds each arena.
type Capacities map[cl.Kind]int

// DefaultCapacities mirrors the client table sizes.
func DefaultCapacities() Capacities {
	return Capacities{
		cl.KindPlatform: 1 << 16,
		cl.KindDevice:   1 << 16,
		cl.KindContext:  1 << 16,
		cl.KindQueue:    1 << 16,
		cl.KindMem:      1 << 20,
		cl.KindSampler:  1 << 20,
		cl.KindProgram:  1 << 20,
		cl.KindKernel:   1 << 20,
		cl.KindEvent:    1 << 20,
	}
}

// Store holds one arena per object kind.
type Store struct {
	arenas [len(kindOrder)]*Arena[Object]
}

var kindOrder = [...]cl.Kind{
	cl.KindPlatform, cl.KindDevice, cl.KindContext, cl.KindQueue, cl.KindMem,
	cl.KindSampler, cl.KindProgram, cl.KindKernel, cl.KindEvent,
}

// New creates an empty store. Kinds missing from caps use the defaults.
func New(caps Capacities) *Store {
	defaults := DefaultCapacities()
	s := &Store{}
	for _, k := range kindOrder {
		n, ok := caps[k]
		if !ok || n <= 0 {
			n = defaults[k]
		}
		s.arenas[k] = NewArena[Object](n)
	}
	return s
}

func (s *Store) Arena(k cl.Kind) *Arena[Object] { return s.arenas[k] }

// Insert stores a newly created object.
func (s *Store) Insert(k cl.Kind, obj Object) (ID, error) {
	id, err := s.arenas[k].Insert(obj)
	if err != nil {
		return 0, cl.OutOfResources
	}
	return id, nil
}

// Intern assigns a stable ID to an object the runtime enumerates rather than
// creates, such as platforms and devices.
func (s *Store) Intern(k cl.Kind, obj Object) (ID, error) {
	id, err := s.arenas[k].Intern(obj)
	if err != nil {
		return 0, cl.OutOfResources
	}
	return id, nil
}

// Resolve returns the object for id or the kind's invalid-object status.
func (s *Store) Resolve(k cl.Kind, id ID) (Object, error) {
	obj, ok := s.arenas[k].Get(id)
	if !ok {
		return nil, k.Invalid()
	}
	return obj, nil
}

// ResolveAll resolves every id in ids.
func (s *Store) ResolveAll(k cl.Kind, ids []ID) ([]Object, error) {
	out := make([]Object, len(ids))
	for i, id := range ids {
		obj, err := s.Resolve(k, id)
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

// IDOf maps a runtime object back to its ID. Platforms and devices are
// interned on demand; other objects the session never saw map to zero.
func (s *Store) IDOf(k cl.Kind, obj Object) ID {
	if obj == nil {
		return 0
	}
	if k == cl.KindPlatform || k == cl.KindDevice {
		id, err := s.Intern(k, obj)
		if err != nil {
			return 0
		}
		return id
	}
	id, _ := s.arenas[k].IDOf(obj)
	return id
}

func (s *Store) Retain(k cl.Kind, id ID) error {
	if !s.arenas[k].Retain(id) {
		return k.Invalid()
	}
	return nil
}

// Release drops one reference and reports whether the entry was freed.
func (s *Store) Release(k cl.Kind, id ID) (bool, error) {
	ok, freed := s.arenas[k].Release(id)
	if !ok {
		return false, k.Invalid()
	}
	return freed, nil
}

// Leftover is an object still referenced when a session ends.
type Leftover struct {
	Kind cl.Kind
	Obj  Object
	Refs int
}

// Drain empties the store and returns what was still referenced, dependents
// first: events, kernels, programs, samplers, mem objects, queues, contexts,
// then devices. Platforms are dropped silently.
func (s *Store) Drain() []Leftover {
	var out []Leftover
	for i := len(kindOrder) - 1; i >= 0; i-- {
		k := kindOrder[i]
		objs := s.arenas[k].Drain()
		if k == cl.KindPlatform {
			continue
		}
		for obj, refs := range objs {
			out = append(out, Leftover{Kind: k, Obj: obj, Refs: refs})
		}
	}
	return out
}
