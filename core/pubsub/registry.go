package pubsub

import (
	"sort"
	"sync"
)

type (
	// Handle is a live connection able to receive events.
	// Send must never block: it returns false when the event is dropped.
	Handle interface {
		ID() string
		Send(evt Event) bool
	}

	// Registry maps group keys to the handles currently subscribed to them.
	// It is safe for concurrent use.
	Registry struct {
		mu     sync.RWMutex
		groups map[string]map[string]Handle // {group: {handleID: Handle}}
	}
)

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]Handle)}
}

// Join registers h under group. Joining twice is a no-op.
func (r *Registry) Join(group string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]Handle)
		r.groups[group] = members
	}
	members[h.ID()] = h
}

// Leave removes h from group if present. The group entry is dropped once empty.
func (r *Registry) Leave(group string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, h.ID())
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Members returns a snapshot of the handles registered under group.
func (r *Registry) Members(group string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	handles := make([]Handle, 0, len(members))
	for _, h := range members {
		handles = append(handles, h)
	}
	return handles
}

// Len returns the number of handles registered under group.
func (r *Registry) Len(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// Groups returns the sorted keys of the non-empty groups.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.groups))
	for k := range r.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
