package relay

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/rs/zerolog/log"
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrInitiatorTaken = errors.New("another peer already sent the offer")
	ErrRoomExpired    = errors.New("room expired")
	ErrWaitTimeout    = errors.New("no message arrived in time")
	ErrInvalidRoom    = errors.New("invalid room id")
	ErrInvalidPeer    = errors.New("missing peer id")
)

const (
	DefaultRoomTTL = 10 * time.Minute
	DefaultMaxWait = 30 * time.Second

	roomCapacity = 2
)

// Hub holds every live room. A room admits two peers; envelopes queue
// until the other peer waits for them, and a peer never receives its own.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	expired map[string]time.Time

	ttl     time.Duration
	maxWait time.Duration
	now     func() time.Time
}

type room struct {
	id    string
	peers []string

	// initiator is the first peer to send before receiving anything.
	initiator string
	received  map[string]bool

	queue   []envelope
	waiters []*waiter

	gone    chan struct{}
	created time.Time
	touched time.Time
}

type envelope struct {
	from    string
	message json.RawMessage
}

type waiter struct {
	peerID string
	ch     chan envelope
}

// RoomInfo describes a room's occupancy.
type RoomInfo struct {
	ID        string    `json:"roomId"`
	Peers     int       `json:"peers"`
	Pending   int       `json:"pending"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewHub creates a hub. Zero durations select the defaults.
func NewHub(ttl, maxWait time.Duration) *Hub {
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Hub{
		rooms:   make(map[string]*room),
		expired: make(map[string]time.Time),
		ttl:     ttl,
		maxWait: maxWait,
		now:     time.Now,
	}
}

// Create mints an unused word-list room token and opens the room.
func (h *Hub) Create() RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		id := signaling.NewRoomToken()
		if _, ok := h.rooms[id]; ok {
			continue
		}
		if _, ok := h.expired[id]; ok {
			continue
		}
		r := h.newRoom(id)
		log.Info().Str("module", "relay").Str("room", id).Msg("room created")
		return h.info(r)
	}
}

// Info returns the occupancy of a live room.
func (h *Hub) Info(id string) (RoomInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.expired[id]; ok {
		return RoomInfo{}, ErrRoomExpired
	}
	r, ok := h.rooms[id]
	if !ok {
		return RoomInfo{}, ErrInvalidRoom
	}
	return h.info(r), nil
}

// Len returns the number of live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Send queues message from peerID for the other peer in the room.
func (h *Hub) Send(roomID, peerID string, message json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.admit(roomID, peerID)
	if err != nil {
		return err
	}

	if !r.received[peerID] {
		switch r.initiator {
		case "":
			r.initiator = peerID
		case peerID:
		default:
			log.Warn().Str("module", "relay").Str("room", roomID).Str("peer", peerID).Msg("second initiator rejected")
			return ErrInitiatorTaken
		}
	}

	r.queue = append(r.queue, envelope{from: peerID, message: message})
	r.dispatch()
	return nil
}

// Wait blocks until an envelope from the other peer is available, timeout
// elapses, ctx ends or the room expires. An envelope handed to a wait that
// is cancelled before returning goes back to the head of the queue.
func (h *Hub) Wait(ctx context.Context, roomID, peerID string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 || timeout > h.maxWait {
		timeout = h.maxWait
	}

	h.mu.Lock()
	r, err := h.admit(roomID, peerID)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	w := &waiter{peerID: peerID, ch: make(chan envelope, 1)}
	r.waiters = append(r.waiters, w)
	r.dispatch()
	gone := r.gone
	h.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-w.ch:
		return env.message, nil
	case <-gone:
		return nil, ErrRoomExpired
	case <-timer.C:
		if env, ok := h.withdraw(r, w, false); ok {
			return env.message, nil
		}
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		h.withdraw(r, w, true)
		return nil, ctx.Err()
	}
}

// Probe registers peerID in the room and reports whether another peer is
// already there. It never consumes envelopes.
func (h *Hub) Probe(roomID, peerID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.admit(roomID, peerID)
	if err != nil {
		return false, err
	}
	return len(r.peers) > 1, nil
}

// Leave frees peerID's slot in the room. Its undelivered envelopes and
// pending waits are dropped, and if it was the initiator the next peer to
// send takes that role. Leaving a room the peer is not in is a no-op.
func (h *Hub) Leave(roomID, peerID string) error {
	if !signaling.ValidRoomToken(roomID) {
		return ErrInvalidRoom
	}
	if peerID == "" {
		return ErrInvalidPeer
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	i := slices.Index(r.peers, peerID)
	if i < 0 {
		return nil
	}
	r.peers = slices.Delete(r.peers, i, i+1)
	r.queue = slices.DeleteFunc(r.queue, func(e envelope) bool { return e.from == peerID })
	r.waiters = slices.DeleteFunc(r.waiters, func(w *waiter) bool { return w.peerID == peerID })
	delete(r.received, peerID)
	if r.initiator == peerID {
		r.initiator = ""
	}
	r.touched = h.now()

	log.Debug().Str("module", "relay").Str("room", roomID).Str("peer", peerID).Int("peers", len(r.peers)).Msg("peer left")
	return nil
}

// Run expires idle rooms until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	interval := h.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep expires rooms idle for longer than the TTL. Waiters in an expired
// room, and later requests for it, get ErrRoomExpired until the tombstone
// itself ages out.
func (h *Hub) Sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for id, r := range h.rooms {
		if now.Sub(r.touched) < h.ttl {
			continue
		}
		close(r.gone)
		delete(h.rooms, id)
		h.expired[id] = now
		log.Info().Str("module", "relay").Str("room", id).Dur("age", now.Sub(r.created)).Msg("room expired")
	}
	for id, at := range h.expired {
		if now.Sub(at) >= h.ttl {
			delete(h.expired, id)
		}
	}
}

// admit returns the room, creating it on first use, after making sure
// peerID is one of its two peers. Callers hold h.mu.
func (h *Hub) admit(roomID, peerID string) (*room, error) {
	if !signaling.ValidRoomToken(roomID) {
		return nil, ErrInvalidRoom
	}
	if peerID == "" {
		return nil, ErrInvalidPeer
	}
	if _, ok := h.expired[roomID]; ok {
		return nil, ErrRoomExpired
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = h.newRoom(roomID)
	}
	if !slices.Contains(r.peers, peerID) {
		if len(r.peers) >= roomCapacity {
			return nil, ErrRoomFull
		}
		r.peers = append(r.peers, peerID)
		log.Debug().Str("module", "relay").Str("room", roomID).Str("peer", peerID).Int("peers", len(r.peers)).Msg("peer joined")
	}
	r.touched = h.now()
	return r, nil
}

func (h *Hub) newRoom(id string) *room {
	now := h.now()
	r := &room{
		id:       id,
		received: make(map[string]bool),
		gone:     make(chan struct{}),
		created:  now,
		touched:  now,
	}
	h.rooms[id] = r
	return r
}

func (h *Hub) info(r *room) RoomInfo {
	return RoomInfo{
		ID:        r.id,
		Peers:     len(r.peers),
		Pending:   len(r.queue),
		ExpiresAt: r.touched.Add(h.ttl),
	}
}

// withdraw removes w from the room. If an envelope was already handed to
// it, that envelope is returned, or put back at the head of the queue when
// requeue is set.
func (h *Hub) withdraw(r *room, w *waiter, requeue bool) (envelope, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if i := slices.Index(r.waiters, w); i >= 0 {
		r.waiters = slices.Delete(r.waiters, i, i+1)
		return envelope{}, false
	}

	select {
	case env := <-w.ch:
		if !requeue {
			return env, true
		}
		r.queue = slices.Insert(r.queue, 0, env)
		r.dispatch()
		log.Debug().Str("module", "relay").Str("room", r.id).Str("peer", w.peerID).Msg("envelope requeued after abandoned wait")
	default:
	}
	return envelope{}, false
}

// dispatch hands queued envelopes to waiters of the other peer, oldest
// first. Callers hold the hub lock.
func (r *room) dispatch() {
	for wi := 0; wi < len(r.waiters); {
		w := r.waiters[wi]
		qi := slices.IndexFunc(r.queue, func(e envelope) bool { return e.from != w.peerID })
		if qi < 0 {
			wi++
			continue
		}
		env := r.queue[qi]
		r.queue = slices.Delete(r.queue, qi, qi+1)
		r.waiters = slices.Delete(r.waiters, wi, wi+1)
		r.received[w.peerID] = true
		w.ch <- env
	}
}
