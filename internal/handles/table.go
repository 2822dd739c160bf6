// Package handles keeps the client-side tables that map local handles to the
// identifiers a server assigned to the same objects.
package handles

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxnlabs/ocland/internal/cl"
)

// Handle is the value an application holds for a remote object.
type Handle uint64

// PeerID is the opaque identifier a server uses for one of its objects.
type PeerID uint64

// ErrCapacity is returned by Insert when a table is full.
var ErrCapacity = errors.New("handles: table full")

// handleBase keeps minted handles far from small integers so that kernel
// scalar arguments rarely alias a live handle.
const handleBase Handle = 0x6f636c0000000000

var counter atomic.Uint64

// mint returns a handle never returned before in this process, across every
// table.
func mint() Handle {
	return handleBase | Handle(counter.Add(1))
}

// DefaultCapacity is the table size used for kind when none is configured.
func DefaultCapacity(k cl.Kind) int {
	switch k {
	case cl.KindPlatform, cl.KindDevice, cl.KindContext, cl.KindQueue:
		return 1 << 16
	}
	return 1 << 20
}

// Record is one row of a table.
type Record[S comparable] struct {
	Handle Handle
	Peer   PeerID
	Server S
}

type peerKey[S comparable] struct {
	server S
	peer   PeerID
}

// Table holds the live handles of one kind. S identifies the owning server.
type Table[S comparable] struct {
	kind     cl.Kind
	capacity int

	mu       sync.RWMutex
	byHandle map[Handle]Record[S]
	byPeer   map[peerKey[S]]Handle
}

// NewTable creates a table bounded to capacity entries.
func NewTable[S comparable](kind cl.Kind, capacity int) *Table[S] {
	return &Table[S]{
		kind:     kind,
		capacity: capacity,
		byHandle: make(map[Handle]Record[S]),
		byPeer:   make(map[peerKey[S]]Handle),
	}
}

func (t *Table[S]) Kind() cl.Kind { return t.kind }

func (t *Table[S]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHandle)
}

// Lookup returns the record for h.
func (t *Table[S]) Lookup(h Handle) (Record[S], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.byHandle[h]
	return rec, ok
}

// Resolve is Lookup reporting a miss as the kind's invalid-object status.
func (t *Table[S]) Resolve(h Handle) (Record[S], error) {
	rec, ok := t.Lookup(h)
	if !ok {
		return rec, t.kind.Invalid()
	}
	return rec, nil
}

// Peer translates a local handle to the server's identifier.
func (t *Table[S]) Peer(h Handle) (PeerID, bool) {
	rec, ok := t.Lookup(h)
	return rec.Peer, ok
}

// Local translates a server identifier back to the local handle.
func (t *Table[S]) Local(server S, peer PeerID) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byPeer[peerKey[S]{server, peer}]
	return h, ok
}

// Insert mints a handle for an object the server just created.
func (t *Table[S]) Insert(server S, peer PeerID) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(server, peer)
}

func (t *Table[S]) insertLocked(server S, peer PeerID) (Handle, error) {
	if len(t.byHandle) >= t.capacity {
		return 0, fmt.Errorf("%w: %s (%d entries)", ErrCapacity, t.kind, t.capacity)
	}
	h := mint()
	t.byHandle[h] = Record[S]{Handle: h, Peer: peer, Server: server}
	t.byPeer[peerKey[S]{server, peer}] = h
	return h, nil
}

// Intern returns the existing handle for (server, peer) or inserts a new one.
func (t *Table[S]) Intern(server S, peer PeerID) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byPeer[peerKey[S]{server, peer}]; ok {
		return h, nil
	}
	return t.insertLocked(server, peer)
}

// Remove deletes h. It reports false when h was not present.
func (t *Table[S]) Remove(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byHandle[h]
	if !ok {
		return false
	}
	delete(t.byHandle, h)
	key := peerKey[S]{rec.Server, rec.Peer}
	if t.byPeer[key] == h {
		delete(t.byPeer, key)
	}
	return true
}

// RemoveServer drops every handle owned by server and returns how many were
// removed.
func (t *Table[S]) RemoveServer(server S) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for h, rec := range t.byHandle {
		if rec.Server != server {
			continue
		}
		delete(t.byHandle, h)
		delete(t.byPeer, peerKey[S]{rec.Server, rec.Peer})
		n++
	}
	return n
}
