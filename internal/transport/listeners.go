package transport

import (
	"sync"
)

type listener struct {
	id      ListenerID
	handler Handler
	once    bool
}

// Listeners is a per-name listener registry with once/on/off semantics.
// Handlers are invoked outside the lock, in registration order.
type Listeners struct {
	mu     sync.Mutex
	nextID ListenerID
	byName map[string][]listener
}

// NewListeners creates an empty registry
func NewListeners() *Listeners {
	return &Listeners{
		byName: make(map[string][]listener),
	}
}

// Once registers a one-shot listener
func (l *Listeners) Once(name string, h Handler) ListenerID {
	return l.add(name, h, true)
}

// On registers a persistent listener
func (l *Listeners) On(name string, h Handler) ListenerID {
	return l.add(name, h, false)
}

func (l *Listeners) add(name string, h Handler, once bool) ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.byName[name] = append(l.byName[name], listener{id: id, handler: h, once: once})
	return id
}

// Off removes a single listener
func (l *Listeners) Off(name string, id ListenerID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byName[name]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(l.byName, name)
		return
	}
	l.byName[name] = entries
}

// Count returns the number of listeners registered under name
func (l *Listeners) Count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byName[name])
}

// Clear removes every listener
func (l *Listeners) Clear() {
	l.mu.Lock()
	l.byName = make(map[string][]listener)
	l.mu.Unlock()
}

// Dispatch invokes the listeners of name with payload. One-shot listeners
// are removed before being invoked. Returns false if nobody listened.
func (l *Listeners) Dispatch(name string, payload []byte) bool {
	l.mu.Lock()
	entries := l.byName[name]
	if len(entries) == 0 {
		l.mu.Unlock()
		return false
	}

	handlers := make([]Handler, 0, len(entries))
	kept := entries[:0:0]
	for _, e := range entries {
		handlers = append(handlers, e.handler)
		if !e.once {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(l.byName, name)
	} else {
		l.byName[name] = kept
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
	return true
}
