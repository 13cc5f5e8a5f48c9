// Package history records the ids of requests emitted by a session, so
// pushes caused by the session's own writes can be recognized.
package history

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLookback is how long an emitted request id is remembered
const DefaultLookback = 10 * time.Second

// DefaultSize bounds the number of remembered ids. A session emitting more
// than DefaultSize requests within the lookback loses the oldest ids early,
// and pushes caused by those requests are then treated as foreign.
const DefaultSize = 10000

// Store is an LRU of requestId -> emission time, pruned by age
type Store struct {
	cache    *lru.Cache[string, time.Time]
	size     int
	lookback time.Duration
	mu       sync.Mutex
}

// New creates a store holding at most size ids for lookback
func New(size int, lookback time.Duration) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &Store{
		cache:    cache,
		size:     size,
		lookback: lookback,
	}, nil
}

// Record drops entries older than the lookback window, then stores id with
// its emission time. It reports whether an id still inside the window had
// to be evicted to make room.
func (s *Store) Record(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(at)
	early := s.cache.Len() >= s.size && !s.cache.Contains(id)
	s.cache.Add(id, at)
	return early
}

// Contains reports whether id is remembered
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(id)
}

// Consume removes id and reports whether it was remembered
func (s *Store) Consume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(id)
}

// Prune drops entries older than the lookback window relative to now
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *Store) pruneLocked(now time.Time) int {
	cutoff := now.Add(-s.lookback)
	removed := 0
	// Keys are ordered oldest to newest
	for _, key := range s.cache.Keys() {
		at, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		if at.Before(cutoff) {
			s.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered ids
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Purge forgets every id
func (s *Store) Purge() {
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
}
