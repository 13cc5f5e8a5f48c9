package history

import (
	"testing"
	"time"
)

func TestStore_RecordPrunesOldEntries(t *testing.T) {
	s, err := New(100, 10*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t0 := time.Now()
	s.Record("old", t0)
	s.Record("recent", t0.Add(5*time.Second))
	s.Record("new", t0.Add(11*time.Second))

	if s.Contains("old") {
		t.Error("entry older than lookback was not pruned")
	}
	if !s.Contains("recent") || !s.Contains("new") {
		t.Error("entries within lookback were pruned")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestStore_ConsumeOnce(t *testing.T) {
	s, _ := New(10, 0)
	s.Record("req", time.Now())

	if !s.Consume("req") {
		t.Fatal("first Consume should report the id")
	}
	if s.Consume("req") {
		t.Error("second Consume should not report the id")
	}
}

func TestStore_BoundedBySize(t *testing.T) {
	s, _ := New(2, time.Minute)
	now := time.Now()
	if s.Record("a", now) || s.Record("b", now) {
		t.Fatal("eviction reported below capacity")
	}
	if !s.Record("c", now) {
		t.Error("eviction inside the lookback not reported")
	}

	if s.Contains("a") {
		t.Error("least recent id should be evicted")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestStore_ExpiredEntriesMakeRoom(t *testing.T) {
	s, _ := New(2, time.Second)
	now := time.Now()
	s.Record("a", now)
	s.Record("b", now)

	if s.Record("c", now.Add(2*time.Second)) {
		t.Error("pruned entries reported as early evictions")
	}
	if s.Len() != 1 || !s.Contains("c") {
		t.Errorf("Len = %d, want only c", s.Len())
	}
}

func TestStore_Prune(t *testing.T) {
	s, _ := New(10, time.Second)
	now := time.Now()
	s.Record("a", now)
	if n := s.Prune(now.Add(2 * time.Second)); n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	s.Record("b", now)
	s.Purge()
	if s.Len() != 0 {
		t.Error("Purge left entries")
	}
}
