package session

import (
	"reflect"
	"testing"
)

func TestRegistryOrderAndUnregister(t *testing.T) {
	var r registry
	var calls []string

	r.on(EventMessage, func(Event) { calls = append(calls, "first") })
	off := r.on(EventMessage, func(Event) { calls = append(calls, "second") })
	r.on(EventClose, func(Event) { calls = append(calls, "close") })

	r.emit(Event{Kind: EventMessage})
	if !reflect.DeepEqual(calls, []string{"first", "second"}) {
		t.Fatalf("calls = %v", calls)
	}

	calls = nil
	off()
	off()
	r.emit(Event{Kind: EventMessage})
	if !reflect.DeepEqual(calls, []string{"first"}) {
		t.Errorf("calls after unregister = %v", calls)
	}
}

func TestRegistryHandlerMayUnregisterItself(t *testing.T) {
	var r registry
	count := 0
	var off func()
	off = r.on(EventState, func(Event) {
		count++
		off()
	})

	r.emit(Event{Kind: EventState})
	r.emit(Event{Kind: EventState})
	if count != 1 {
		t.Errorf("handler ran %d times", count)
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{Idle, Negotiating},
		{Negotiating, Connected},
		{Connected, Disconnected},
		{Disconnected, Connected},
		{Negotiating, Failed},
		{Failed, Closed},
		{Idle, Closed},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransition(tr.to) {
			t.Errorf("%v -> %v refused", tr.from, tr.to)
		}
	}

	refused := []struct{ from, to State }{
		{Closed, Negotiating},
		{Closed, Connected},
		{Failed, Connected},
		{Idle, Connected},
		{Connected, Connected},
	}
	for _, tr := range refused {
		if tr.from.CanTransition(tr.to) {
			t.Errorf("%v -> %v allowed", tr.from, tr.to)
		}
	}
}
