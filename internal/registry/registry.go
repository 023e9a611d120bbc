// Package registry tracks scheduled notification identifiers with bounded
// capacity and strict FIFO eviction.
package registry

import (
	"container/list"
	"sync"

	"notisched/internal/kit"
)

const DefaultCapacity = 100

// Entry is one tracked notification.
type Entry struct {
	ID     string
	Handle kit.Handle
}

type node struct {
	id     string
	handle kit.Handle
}

// Registry is a bounded, insertion-ordered map from identifier to platform
// handle. Eviction at capacity removes the strict FIFO-oldest entry.
//
// One exclusive lock guards mutations; reads take the shared lock.
type Registry struct {
	mu  sync.RWMutex
	cap int

	order *list.List               // front = oldest
	byID  map[string]*list.Element // id -> element holding *node
}

func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		cap:   capacity,
		order: list.New(),
		byID:  map[string]*list.Element{},
	}
}

// Insert records id -> handle.
//
// If the id already exists, the entry is refreshed in place and moved to the
// most-recent position. If the registry is at capacity, the oldest entry is
// evicted first and its id is returned so the caller can clean up derived
// state (group membership, platform cancellation, ...).
func (r *Registry) Insert(id string, handle kit.Handle) (evictedID string, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.byID[id]; ok {
		n := el.Value.(*node)
		n.handle = handle
		r.order.MoveToBack(el)
		return "", false
	}

	if r.order.Len() >= r.cap {
		oldest := r.order.Front()
		if oldest != nil {
			n := oldest.Value.(*node)
			r.order.Remove(oldest)
			delete(r.byID, n.id)
			evictedID = n.id
			evicted = true
		}
	}

	r.byID[id] = r.order.PushBack(&node{id: id, handle: handle})
	return evictedID, evicted
}

// Remove deletes id and returns its handle. ok is false if id was not tracked.
func (r *Registry) Remove(id string) (handle kit.Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, found := r.byID[id]
	if !found {
		return "", false
	}
	n := el.Value.(*node)
	r.order.Remove(el)
	delete(r.byID, id)
	return n.handle, true
}

// RemoveBatch deletes every id present under one lock acquisition and
// returns the removed entries. Missing ids are skipped.
func (r *Registry) RemoveBatch(ids []string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		el, ok := r.byID[id]
		if !ok {
			continue
		}
		n := el.Value.(*node)
		r.order.Remove(el)
		delete(r.byID, id)
		out = append(out, Entry{ID: n.id, Handle: n.handle})
	}
	return out
}

// RemoveAll clears the registry and returns the removed entries in insertion
// order, so the caller can cancel the platform side outside the lock.
func (r *Registry) RemoveAll() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node)
		out = append(out, Entry{ID: n.id, Handle: n.handle})
	}
	r.order.Init()
	r.byID = map[string]*list.Element{}
	return out
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Handle returns the platform handle for id.
func (r *Registry) Handle(id string) (kit.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	el, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return el.Value.(*node).handle, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order.Len()
}

func (r *Registry) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cap
}

// SetCapacity applies a new bound. Shrinking evicts FIFO-oldest entries; their
// ids are returned for cleanup.
func (r *Registry) SetCapacity(capacity int) []string {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cap = capacity
	var evicted []string
	for r.order.Len() > r.cap {
		oldest := r.order.Front()
		n := oldest.Value.(*node)
		r.order.Remove(oldest)
		delete(r.byID, n.id)
		evicted = append(evicted, n.id)
	}
	return evicted
}

// Snapshot returns all entries in insertion order (oldest first).
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		n := el.Value.(*node)
		out = append(out, Entry{ID: n.id, Handle: n.handle})
	}
	return out
}
