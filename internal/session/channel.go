package session

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// ChannelLabel is the label of the session's message channel.
const ChannelLabel = "warplink"

// MessageKind classifies an inbound payload.
type MessageKind int

const (
	StructuredMessage MessageKind = iota + 1
	PlainText
	BinaryChunk
)

func (k MessageKind) String() string {
	switch k {
	case StructuredMessage:
		return "structured"
	case PlainText:
		return "text"
	case BinaryChunk:
		return "binary"
	default:
		return "unknown"
	}
}

// InboundMessage is a classified payload received on the channel.
type InboundMessage struct {
	Kind MessageKind
	// Text is set for StructuredMessage and PlainText.
	Text string
	// JSON is set for StructuredMessage.
	JSON json.RawMessage
	// Data is the raw payload.
	Data []byte
}

// Decode unmarshals a StructuredMessage into v.
func (m InboundMessage) Decode(v any) error {
	if m.Kind != StructuredMessage {
		return ErrNotStructured
	}
	return json.Unmarshal(m.JSON, v)
}

// Classify sorts a payload into one of the three message kinds. Text that
// parses as a JSON object or array is structured; any other text is plain.
func Classify(msg pion.DataChannelMessage) InboundMessage {
	if !msg.IsString {
		return InboundMessage{Kind: BinaryChunk, Data: msg.Data}
	}

	text := string(msg.Data)
	trimmed := bytes.TrimSpace(msg.Data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed) {
		return InboundMessage{Kind: StructuredMessage, Text: text, JSON: json.RawMessage(trimmed), Data: msg.Data}
	}
	return InboundMessage{Kind: PlainText, Text: text, Data: msg.Data}
}

// OutboundMessage waits in the queue until the channel can carry it.
type OutboundMessage struct {
	Data     []byte
	Binary   bool
	Enqueued time.Time
}

// channelHooks are the session's reactions to channel events.
type channelHooks struct {
	open    func()
	close   func()
	message func(InboundMessage)
}

// ChannelManager owns the session's reliable ordered channel and its
// outbound FIFO queue. Send appends; Flush is the only drainer and removes
// a message only after the channel accepted it.
type ChannelManager struct {
	maxRetransmits uint16
	hooks          channelHooks
	log            zerolog.Logger

	mu     sync.Mutex
	ch     webrtc.Channel
	queue  []OutboundMessage
	gen    uint64
	closed bool

	flushMu sync.Mutex
}

func newChannelManager(maxRetransmits uint16, hooks channelHooks, log zerolog.Logger) *ChannelManager {
	return &ChannelManager{
		maxRetransmits: maxRetransmits,
		hooks:          hooks,
		log:            log,
	}
}

// Open prepares the channel for role. The initiator creates it before the
// offer so the description carries it; the responder adopts the first
// channel the remote side opens.
func (m *ChannelManager) Open(peer webrtc.PeerHandle, role Role) error {
	if role == Initiator {
		ch, err := peer.CreateChannel(ChannelLabel, m.maxRetransmits)
		if err != nil {
			return err
		}
		m.attach(ch)
		return nil
	}

	peer.OnChannel(func(ch webrtc.Channel) {
		m.mu.Lock()
		adopted := m.ch != nil || m.closed
		m.mu.Unlock()
		if adopted {
			m.log.Warn().Str("label", ch.Label()).Msg("ignoring extra data channel")
			return
		}
		m.attach(ch)
	})
	return nil
}

func (m *ChannelManager) attach(ch webrtc.Channel) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ch.Close()
		return
	}
	m.ch = ch
	m.mu.Unlock()

	ch.OnOpen(func() {
		m.log.Debug().Str("label", ch.Label()).Msg("data channel open")
		if m.hooks.open != nil {
			m.hooks.open()
		}
	})
	ch.OnClose(func() {
		m.log.Debug().Str("label", ch.Label()).Msg("data channel closed")
		if m.hooks.close != nil {
			m.hooks.close()
		}
	})
	ch.OnMessage(func(msg pion.DataChannelMessage) {
		if m.hooks.message != nil {
			m.hooks.message(Classify(msg))
		}
	})

	// A channel adopted from OnChannel may already be open.
	if ch.ReadyState() == pion.DataChannelStateOpen && m.hooks.open != nil {
		m.hooks.open()
	}
}

// Channel returns the underlying channel, or nil before it exists.
func (m *ChannelManager) Channel() webrtc.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch
}

// Ready reports whether the channel is open.
func (m *ChannelManager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil && m.ch.ReadyState() == pion.DataChannelStateOpen
}

// Enqueue appends msg to the outbound queue.
func (m *ChannelManager) Enqueue(msg OutboundMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, msg)
}

// Pending returns the number of queued messages.
func (m *ChannelManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Flush transmits queued messages in order while the channel stays open.
// It stops at the first message the channel refuses; that message and
// everything behind it stay queued.
func (m *ChannelManager) Flush() int {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	sent := 0
	for {
		m.mu.Lock()
		if m.closed || m.ch == nil || len(m.queue) == 0 || m.ch.ReadyState() != pion.DataChannelStateOpen {
			m.mu.Unlock()
			break
		}
		ch, head, gen := m.ch, m.queue[0], m.gen
		m.mu.Unlock()

		var err error
		if head.Binary {
			err = ch.Send(head.Data)
		} else {
			err = ch.SendText(string(head.Data))
		}
		if err != nil {
			m.log.Debug().Err(err).Int("pending", m.Pending()).Msg("flush interrupted")
			break
		}

		m.mu.Lock()
		if m.gen == gen && len(m.queue) > 0 {
			m.queue = m.queue[1:]
		}
		m.mu.Unlock()
		sent++
	}

	if sent > 0 {
		m.log.Trace().Int("sent", sent).Msg("flushed outbound queue")
	}
	return sent
}

// Close clears the queue and closes the channel. Later messages are dropped.
func (m *ChannelManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.queue = nil
	m.gen++
	ch := m.ch
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}
