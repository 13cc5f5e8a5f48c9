package events

import (
	"testing"
)

func TestRegistry_EmitInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []int
	r.Add(Connected, func(Event) { order = append(order, 1) })
	r.Add(Connected, func(Event) { order = append(order, 2) })
	r.Add(Disconnected, func(Event) { order = append(order, 99) })

	r.Emit(Event{Kind: Connected})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	calls := 0
	id := r.Add(Error, func(Event) { calls++ })
	r.Remove(Error, id)
	r.Emit(Event{Kind: Error})
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := NewRegistry()
	r.Add(Connected, func(Event) {})
	r.Add(Subscribed, func(Event) {})

	r.RemoveAll(Connected)
	if r.Count(Connected) != 0 || r.Count(Subscribed) != 1 {
		t.Errorf("RemoveAll(Connected) left counts %d/%d", r.Count(Connected), r.Count(Subscribed))
	}

	r.RemoveAll()
	if r.Count(Subscribed) != 0 {
		t.Error("RemoveAll() left listeners")
	}
}

func TestRegistry_ListenerMayRemoveItself(t *testing.T) {
	r := NewRegistry()
	var id ListenerID
	calls := 0
	id = r.Add(Reconnected, func(Event) {
		calls++
		r.Remove(Reconnected, id)
	})
	r.Emit(Event{Kind: Reconnected})
	r.Emit(Event{Kind: Reconnected})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestKind_Valid(t *testing.T) {
	if !JWTTokenExpired.Valid() {
		t.Error("jwtTokenExpired should be valid")
	}
	if Kind("bogus").Valid() {
		t.Error("bogus kind should be invalid")
	}
}
