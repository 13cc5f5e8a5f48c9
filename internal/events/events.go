// Package events holds the session-wide event listeners.
package events

import (
	"sync"

	"rtclient/internal/protocol"
)

// Kind names a global event
type Kind string

// Event kinds
const (
	Connected        Kind = "connected"
	Disconnected     Kind = "disconnected"
	Reconnected      Kind = "reconnected"
	Error            Kind = "error"
	JWTTokenExpired  Kind = "jwtTokenExpired"
	Subscribed       Kind = "subscribed"
	Unsubscribed     Kind = "unsubscribed"
	LoginAttempt     Kind = "loginAttempt"
	OfflineQueuePush Kind = "offlineQueuePush"
	OfflineQueuePop  Kind = "offlineQueuePop"
)

// Kinds lists every supported kind
var Kinds = []Kind{
	Connected, Disconnected, Reconnected, Error, JWTTokenExpired,
	Subscribed, Unsubscribed, LoginAttempt, OfflineQueuePush, OfflineQueuePop,
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is passed to listeners. Request and Retry are set for
// JWTTokenExpired (Retry re-sends the request with its original callback)
// and for offline queue events; Data carries kind specific payloads.
type Event struct {
	Kind    Kind
	Err     error
	Request *protocol.Request
	Retry   func() error
	Data    interface{}
}

// Listener receives events
type Listener func(Event)

// ListenerID identifies a registered listener
type ListenerID uint64

type entry struct {
	id ListenerID
	fn Listener
}

// Registry keeps listeners per kind in registration order
type Registry struct {
	mu     sync.RWMutex
	nextID ListenerID
	byKind map[Kind][]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[Kind][]entry),
	}
}

// Add registers fn for kind
func (r *Registry) Add(kind Kind, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.byKind[kind] = append(r.byKind[kind], entry{id: r.nextID, fn: fn})
	return r.nextID
}

// Remove unregisters a listener
func (r *Registry) Remove(kind Kind, id ListenerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.byKind[kind]
	for i, e := range entries {
		if e.id == id {
			r.byKind[kind] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// RemoveAll removes the listeners of the given kinds, or of every kind
// when none is given
func (r *Registry) RemoveAll(kinds ...Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(kinds) == 0 {
		r.byKind = make(map[Kind][]entry)
		return
	}
	for _, k := range kinds {
		delete(r.byKind, k)
	}
}

// Count returns the number of listeners for kind
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKind[kind])
}

// Emit calls the listeners of ev.Kind in registration order
func (r *Registry) Emit(ev Event) {
	r.mu.RLock()
	entries := r.byKind[ev.Kind]
	fns := make([]Listener, len(entries))
	for i, e := range entries {
		fns[i] = e.fn
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
