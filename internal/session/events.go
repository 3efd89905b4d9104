package session

import (
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventState      EventKind = "state"
	EventRoom       EventKind = "room"
	EventConnected  EventKind = "connected"
	EventDisconnect EventKind = "disconnect"
	EventMessage    EventKind = "message"
	EventTrack      EventKind = "track"
	EventClose      EventKind = "close"
)

// Event is delivered to handlers registered with Session.On. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// EventState
	Prev  State
	State State

	// EventRoom
	RoomID string

	// EventDisconnect
	Reason string
	Err    error

	// EventMessage
	Message InboundMessage

	// EventTrack
	Track    *pion.TrackRemote
	Receiver *pion.RTPReceiver
}

// Handler receives events. Handlers run on the goroutine that produced the
// event and must not block for long.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// registry maps event kinds to handlers in registration order.
type registry struct {
	mu       sync.Mutex
	next     uint64
	handlers map[EventKind][]subscription
}

func (r *registry) on(kind EventKind, fn Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[EventKind][]subscription)
	}
	r.next++
	id := r.next
	r.handlers[kind] = append(r.handlers[kind], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { r.off(kind, id) })
	}
}

func (r *registry) off(kind EventKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.handlers[kind]
	for i, s := range subs {
		if s.id == id {
			r.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// emit calls the handlers registered for ev.Kind at the time of the call.
func (r *registry) emit(ev Event) {
	r.mu.Lock()
	subs := r.handlers[ev.Kind]
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
