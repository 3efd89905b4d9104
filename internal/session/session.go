package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/config"
	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/BioHazard786/warplink/internal/webrtc"
	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// leaveTimeout bounds the leave request sent while tearing down.
const leaveTimeout = 2 * time.Second

// Session is one peer-to-peer session negotiated through the relay. It
// owns exactly one peer handle, one channel and one signaling transport.
type Session struct {
	cfg    config.Session
	peerID string

	newPeer      webrtc.Factory
	newTransport func(peerID string) (signaling.Transport, error)

	events registry

	mu        sync.Mutex
	state     State
	role      Role
	roomID    string
	minted    bool
	peer      webrtc.PeerHandle
	transport signaling.Transport
	channel   *ChannelManager
	handshake *Handshake
	tracks    []pion.TrackLocal
	log       zerolog.Logger

	connectedOnce sync.Once
	connected     chan struct{}
	failed        chan error

	closeOnce sync.Once
	closeCtx  context.Context
	cancel    context.CancelFunc
}

// Option customises a Session.
type Option func(*Session)

// WithRole fixes the role and skips the occupancy probe.
func WithRole(role Role) Option {
	return func(s *Session) { s.role = role }
}

// WithPeerFactory replaces the pion-backed peer factory.
func WithPeerFactory(f webrtc.Factory) Option {
	return func(s *Session) { s.newPeer = f }
}

// WithTransport makes the session use t instead of dialling the relay
// named in the configuration.
func WithTransport(t signaling.Transport) Option {
	return func(s *Session) {
		s.newTransport = func(string) (signaling.Transport, error) { return t, nil }
	}
}

// WithPeerID sets the id the relay knows this side by.
func WithPeerID(id string) Option {
	return func(s *Session) { s.peerID = id }
}

// New creates an idle session. Nothing touches the network until Init,
// CreateRoom or JoinRoom.
func New(cfg config.Session, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		peerID:    uuid.NewString(),
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
		closeCtx:  ctx,
		cancel:    cancel,
	}
	s.newPeer = webrtc.NewFactory(webrtc.Options{
		STUNServers:     cfg.STUNServers,
		TURNHost:        cfg.TURNServer,
		TURNUser:        cfg.TURNUser,
		TURNPass:        cfg.TURNPass,
		ForceRelay:      cfg.ForceRelay,
		IncludeLoopback: cfg.IncludeLoopback,
	})
	s.newTransport = func(peerID string) (signaling.Transport, error) {
		return signaling.New(cfg.Transport, cfg.RelayURL, peerID, signaling.Options{RoundTripTimeout: cfg.RoundTripTimeout})
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = log.With().Str("module", "session").Str("sid", s.peerID).Logger()
	s.channel = newChannelManager(cfg.MaxRetransmits, channelHooks{
		open:    s.onChannelOpen,
		close:   s.onChannelClose,
		message: s.onMessage,
	}, s.log)
	return s
}

// On registers fn for events of kind and returns a function that removes it.
func (s *Session) On(kind EventKind, fn Handler) (unregister func()) {
	return s.events.on(kind, fn)
}

// CreateRoom mints a fresh room token, announces it with an EventRoom and
// negotiates as initiator. The initiator waits for an answer for as long
// as the init timeout allows, since the other side only joins once the
// token has been passed on.
func (s *Session) CreateRoom(ctx context.Context) error {
	roomID := signaling.NewRoomToken()
	if err := s.begin(roomID, Initiator); err != nil {
		return err
	}
	s.mu.Lock()
	s.minted = true
	s.mu.Unlock()
	s.events.emit(Event{Kind: EventRoom, RoomID: roomID})
	return s.run(ctx)
}

// JoinRoom negotiates as responder in an existing room.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	if err := s.begin(roomID, Responder); err != nil {
		return err
	}
	return s.run(ctx)
}

// Init negotiates a session in roomID and blocks until it is connected,
// fails, is closed, or the init timeout expires. On failure the session is
// left Failed with its peer torn down; retrying means a new Session.
func (s *Session) Init(ctx context.Context, roomID string) error {
	if err := s.begin(roomID, 0); err != nil {
		return err
	}
	return s.run(ctx)
}

// begin claims an idle session for roomID. A zero role keeps the one set
// by WithRole, or leaves it to the occupancy probe.
func (s *Session) begin(roomID string, role Role) error {
	if !signaling.ValidRoomToken(roomID) {
		return WrapError("init", ErrInvalidRoom, roomID)
	}

	s.mu.Lock()
	switch s.state {
	case Idle:
	case Closed:
		s.mu.Unlock()
		return NewError("init", ErrClosed)
	default:
		s.mu.Unlock()
		return NewError("init", ErrAlreadyConnected)
	}
	s.roomID = roomID
	if role != 0 {
		s.role = role
	}
	pending := s.setState(Negotiating)
	s.mu.Unlock()
	s.emitAll(pending)
	return nil
}

func (s *Session) run(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, s.initTimeout())
	defer cancel()
	stop := context.AfterFunc(s.closeCtx, cancel)
	defer stop()

	if err := s.negotiate(initCtx); err != nil {
		err = s.explain(ctx, initCtx, err)
		s.fail(err)
		return err
	}

	select {
	case <-s.connected:
		s.log.Info().Str("role", s.Role().String()).Msg("session connected")
		return nil
	case err := <-s.failed:
		s.fail(err)
		return err
	case <-initCtx.Done():
		err := s.explain(ctx, initCtx, initCtx.Err())
		s.fail(err)
		return err
	}
}

// negotiate decides the role, builds the peer and runs the handshake.
func (s *Session) negotiate(ctx context.Context) error {
	transport, err := s.newTransport(s.peerID)
	if err != nil {
		return NewError("connect relay", err)
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		transport.Close()
		return NewError("init", ErrClosed)
	}
	s.transport = transport
	role := s.role
	minted := s.minted
	s.mu.Unlock()

	if role == 0 {
		role = NewNegotiator(transport, s.cfg.ProbeTimeout, s.log).Decide(ctx, s.roomID)
	}

	peer, err := s.newPeer()
	if err != nil {
		return WrapError("create peer", ErrHandshakeFailed, err.Error())
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		peer.Close()
		return NewError("init", ErrClosed)
	}
	s.peer = peer
	s.role = role
	tracks := s.tracks
	s.mu.Unlock()

	logger := s.log.With().Str("room", s.roomID).Str("role", role.String()).Logger()

	peer.OnConnectionStateChange(s.onPeerState)
	peer.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		logger.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
		s.events.emit(Event{Kind: EventTrack, Track: track, Receiver: receiver})
	})
	for _, track := range tracks {
		if _, err := peer.AddTrack(track); err != nil {
			return WrapError("add track", ErrHandshakeFailed, err.Error())
		}
	}

	if err := s.channel.Open(peer, role); err != nil {
		return WrapError("open channel", ErrHandshakeFailed, err.Error())
	}

	logger.Debug().Msg("starting handshake")
	wait := s.cfg.WaitTimeout
	if minted {
		wait = s.initTimeout()
	}
	hs := NewHandshake(peer, transport, s.roomID, role, HandshakeConfig{
		GatherTimeout: s.cfg.GatherTimeout,
		WaitTimeout:   wait,
	}, logger)

	s.mu.Lock()
	s.handshake = hs
	s.mu.Unlock()

	return hs.Run(ctx)
}

// explain replaces context errors from an aborted Init with the reason
// the context ended.
func (s *Session) explain(parent, initCtx context.Context, err error) error {
	switch {
	case s.closeCtx.Err() != nil:
		return NewError("init", ErrClosed)
	case parent.Err() != nil:
		if errors.Is(err, parent.Err()) {
			return err
		}
		return &Error{Op: "init", Err: parent.Err()}
	case errors.Is(initCtx.Err(), context.DeadlineExceeded):
		details := fmt.Sprintf("not connected within %s", s.initTimeout())
		if hs := s.currentHandshake(); hs != nil {
			details += " (" + hs.Step().String() + ")"
		}
		return WrapError("init", ErrNegotiationTimeout, details)
	default:
		return err
	}
}

// Send queues a binary payload.
func (s *Session) Send(data []byte) error {
	return s.send(OutboundMessage{Data: data, Binary: true, Enqueued: time.Now()})
}

// SendText queues a text payload.
func (s *Session) SendText(text string) error {
	return s.send(OutboundMessage{Data: []byte(text), Enqueued: time.Now()})
}

// SendJSON queues v encoded as a JSON text payload.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return WrapError("send", ErrNotStructured, err.Error())
	}
	return s.send(OutboundMessage{Data: data, Enqueued: time.Now()})
}

// send transmits msg at once when the session is connected and the
// channel open, and queues it otherwise. Before Init and after a failure
// or close there is nothing to queue for.
func (s *Session) send(msg OutboundMessage) error {
	s.mu.Lock()
	state := s.state
	switch state {
	case Negotiating, Connected, Disconnected:
	default:
		s.mu.Unlock()
		return WrapError("send", ErrNotConnected, "session is "+state.String())
	}
	s.channel.Enqueue(msg)
	s.mu.Unlock()

	if state == Connected {
		s.channel.Flush()
	}
	return nil
}

// AddTrack attaches a local media track. Tracks must be added before Init.
func (s *Session) AddTrack(track pion.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return WrapError("add track", ErrAlreadyConnected, "tracks must be added before Init")
	}
	s.tracks = append(s.tracks, track)
	return nil
}

// Close tears down the channel, peer and transport, drops queued messages
// and moves the session to Closed. Only the first call does anything and
// may return an error.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		pending := s.setState(Closed)
		peer, transport, roomID := s.peer, s.transport, s.roomID
		s.transport = nil
		s.mu.Unlock()

		s.cancel()
		s.channel.Close()
		s.release(transport, roomID)
		if peer != nil {
			err = peer.Close()
		}

		s.emitAll(pending)
		s.events.emit(Event{Kind: EventClose})
		s.log.Debug().Msg("session closed")
	})
	return err
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closeCtx.Done()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// PeerID is the id the relay knows this side by.
func (s *Session) PeerID() string {
	return s.peerID
}

// Pending returns the number of queued outbound messages.
func (s *Session) Pending() int {
	return s.channel.Pending()
}

// Channel exposes the underlying channel, for flow control on large
// transfers. It is nil until the channel exists.
func (s *Session) Channel() webrtc.Channel {
	return s.channel.Channel()
}

// Gathered reports how candidate gathering ended during the handshake.
func (s *Session) Gathered() GatherResult {
	if hs := s.currentHandshake(); hs != nil {
		return hs.Gathered()
	}
	return GatherResult{}
}

func (s *Session) currentHandshake() *Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake
}

func (s *Session) initTimeout() time.Duration {
	if s.cfg.InitTimeout > 0 {
		return s.cfg.InitTimeout
	}
	return config.DefaultInitTimeout
}

func (s *Session) onPeerState(st pion.PeerConnectionState) {
	s.log.Debug().Str("peer_state", st.String()).Msg("peer connection state")

	switch st {
	case pion.PeerConnectionStateConnected:
		s.mu.Lock()
		pending := s.setState(Connected)
		ok := len(pending) > 0
		s.mu.Unlock()
		if !ok {
			return
		}
		s.connectedOnce.Do(func() { close(s.connected) })
		s.emitAll(pending)
		s.events.emit(Event{Kind: EventConnected})
		if s.channel.Ready() {
			s.channel.Flush()
		}

	case pion.PeerConnectionStateDisconnected:
		s.mu.Lock()
		var pending []Event
		if s.state == Connected {
			pending = s.setState(Disconnected)
		}
		s.mu.Unlock()
		s.emitAll(pending)

	case pion.PeerConnectionStateFailed:
		err := NewError("connection", ErrIceNegotiationFailed)
		if !s.fail(err) {
			return
		}
		// Wakes Init if it is still waiting for the connection.
		select {
		case s.failed <- err:
		default:
		}
		s.events.emit(Event{Kind: EventDisconnect, Reason: ReasonIceFailed, Err: err})
	}
}

func (s *Session) onChannelOpen() {
	if s.State() == Connected {
		s.channel.Flush()
	}
}

// onChannelClose treats losing the channel of a connected session as a
// connection failure.
func (s *Session) onChannelClose() {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	pending := s.setState(Disconnected)
	s.mu.Unlock()

	s.log.Warn().Msg("data channel closed while connected")
	s.emitAll(pending)
	s.events.emit(Event{
		Kind:   EventDisconnect,
		Reason: ReasonChannelClosed,
		Err:    NewError("channel", ErrChannelClosedUnexpectedly),
	})
}

func (s *Session) onMessage(msg InboundMessage) {
	s.events.emit(Event{Kind: EventMessage, Message: msg})
}

// fail moves the session to Failed and releases its resources. It
// reports false when the session had already failed or closed.
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	if s.state == Failed || s.state == Closed {
		s.mu.Unlock()
		return false
	}
	pending := s.setState(Failed)
	peer, transport, roomID := s.peer, s.transport, s.roomID
	s.transport = nil
	logger := s.log
	s.mu.Unlock()

	logger.Warn().Err(err).Msg("session failed")
	s.channel.Close()
	s.release(transport, roomID)
	if peer != nil {
		peer.Close()
	}
	s.emitAll(pending)
	return true
}

// release gives up this side's slot in the room and closes the transport.
// A retry on the same token must find the slot free again.
func (s *Session) release(transport signaling.Transport, roomID string) {
	if transport == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := transport.Leave(ctx, roomID); err != nil {
		s.log.Debug().Err(err).Str("room", roomID).Msg("leave room failed")
	}
	transport.Close()
}

// setState moves to next if the lifecycle allows it and returns the state
// event to emit once the lock is released. Callers hold s.mu.
func (s *Session) setState(next State) []Event {
	if !s.state.CanTransition(next) {
		return nil
	}
	prev := s.state
	s.state = next
	return []Event{{Kind: EventState, Prev: prev, State: next}}
}

func (s *Session) emitAll(events []Event) {
	for _, ev := range events {
		s.events.emit(ev)
	}
}
