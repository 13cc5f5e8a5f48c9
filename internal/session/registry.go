package session

import (
	"sync"
)

// registry tracks rooms confirmed by the server, keyed by roomId then by
// local room id, and rooms awaiting a subscription confirmation
type registry struct {
	mu      sync.Mutex
	active  map[string]map[string]*Room
	pending map[string]*Room
}

func newRegistry() *registry {
	return &registry{
		active:  make(map[string]map[string]*Room),
		pending: make(map[string]*Room),
	}
}

func (g *registry) addPending(r *Room) {
	g.mu.Lock()
	g.pending[r.id] = r
	g.mu.Unlock()
}

func (g *registry) deletePending(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

func (g *registry) pendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *registry) isPending(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}

func (g *registry) addActive(roomID string, r *Room) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	byID, ok := g.active[roomID]
	if !ok {
		byID = make(map[string]*Room)
		g.active[roomID] = byID
	}
	byID[r.id] = r
	return g.activeCountLocked()
}

func (g *registry) deleteActive(roomID, id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if byID, ok := g.active[roomID]; ok {
		delete(byID, id)
		if len(byID) == 0 {
			delete(g.active, roomID)
		}
	}
	return g.activeCountLocked()
}

// shared reports whether any local room is still subscribed to roomID
func (g *registry) shared(roomID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active[roomID]) > 0
}

func (g *registry) rooms(roomID string) []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	byID := g.active[roomID]
	out := make([]*Room, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	return out
}

func (g *registry) activeCountLocked() int {
	n := 0
	for _, byID := range g.active {
		n += len(byID)
	}
	return n
}

func (g *registry) activeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeCountLocked()
}

// renewable returns every active or pending room, each once
func (g *registry) renewable() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[string]struct{})
	var out []*Room
	for _, byID := range g.active {
		for id, r := range byID {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, r)
		}
	}
	for id, r := range g.pending {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (g *registry) pendingRooms() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Room, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, r)
	}
	return out
}

// resetInFlight abandons subscriptions whose confirmation was lost with
// the connection, so they are retried on reconnect
func (g *registry) resetInFlight() {
	for _, r := range g.pendingRooms() {
		r.abandonInFlight()
	}
}

func (g *registry) clear() {
	g.mu.Lock()
	g.active = make(map[string]map[string]*Room)
	g.pending = make(map[string]*Room)
	g.mu.Unlock()
}
