package session

import (
	"reflect"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  pion.DataChannelMessage
		want MessageKind
	}{
		{"object", pion.DataChannelMessage{IsString: true, Data: []byte(`{"type":"ready"}`)}, StructuredMessage},
		{"array", pion.DataChannelMessage{IsString: true, Data: []byte(` [1,2] `)}, StructuredMessage},
		{"plain text", pion.DataChannelMessage{IsString: true, Data: []byte("hello")}, PlainText},
		{"bare number", pion.DataChannelMessage{IsString: true, Data: []byte("42")}, PlainText},
		{"broken json", pion.DataChannelMessage{IsString: true, Data: []byte(`{"type":`)}, PlainText},
		{"empty text", pion.DataChannelMessage{IsString: true}, PlainText},
		{"binary", pion.DataChannelMessage{Data: []byte(`{"type":"ready"}`)}, BinaryChunk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.msg); got.Kind != tt.want {
				t.Errorf("Classify() kind = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}

func TestInboundMessageDecode(t *testing.T) {
	msg := Classify(pion.DataChannelMessage{IsString: true, Data: []byte(`{"type":"ready","n":3}`)})
	var v struct {
		Type string `json:"type"`
		N    int    `json:"n"`
	}
	if err := msg.Decode(&v); err != nil || v.Type != "ready" || v.N != 3 {
		t.Errorf("Decode() = %+v, %v", v, err)
	}

	plain := Classify(pion.DataChannelMessage{IsString: true, Data: []byte("hi")})
	if err := plain.Decode(&v); err != ErrNotStructured {
		t.Errorf("Decode() on plain text error = %v, want ErrNotStructured", err)
	}
}

func newTestManager(hooks channelHooks) (*ChannelManager, *fakeChannel) {
	m := newChannelManager(0, hooks, zerolog.Nop())
	ch := newFakeChannel(ChannelLabel)
	m.attach(ch)
	return m, ch
}

func enqueueText(m *ChannelManager, texts ...string) {
	for _, text := range texts {
		m.Enqueue(OutboundMessage{Data: []byte(text), Enqueued: time.Now()})
	}
}

func TestChannelManagerFlushesInOrder(t *testing.T) {
	m, ch := newTestManager(channelHooks{})

	enqueueText(m, "a", "b", "c")
	if n := m.Flush(); n != 0 {
		t.Fatalf("Flush() before open sent %d", n)
	}

	ch.open()
	if n := m.Flush(); n != 3 {
		t.Fatalf("Flush() sent %d, want 3", n)
	}
	if got := ch.messages(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("sent %v", got)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d after flush", m.Pending())
	}
}

func TestChannelManagerKeepsRefusedMessages(t *testing.T) {
	m, ch := newTestManager(channelHooks{})
	ch.open()

	ch.mu.Lock()
	ch.refuse = 1
	ch.mu.Unlock()

	enqueueText(m, "d", "e")
	if n := m.Flush(); n != 0 {
		t.Fatalf("Flush() with refusing channel sent %d", n)
	}
	if m.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", m.Pending())
	}

	enqueueText(m, "f")
	if n := m.Flush(); n != 3 {
		t.Fatalf("second Flush() sent %d, want 3", n)
	}
	if got := ch.messages(); !reflect.DeepEqual(got, []string{"d", "e", "f"}) {
		t.Errorf("sent %v", got)
	}
}

func TestChannelManagerCloseDropsQueue(t *testing.T) {
	m, ch := newTestManager(channelHooks{})
	enqueueText(m, "x", "y")

	m.Close()
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d after Close", m.Pending())
	}
	if ch.ReadyState() != pion.DataChannelStateClosed {
		t.Errorf("channel state = %v after Close", ch.ReadyState())
	}

	enqueueText(m, "z")
	if m.Pending() != 0 {
		t.Error("Enqueue() after Close kept the message")
	}
}

func TestChannelManagerHooks(t *testing.T) {
	var opened, closed int
	var got []InboundMessage
	m, ch := newTestManager(channelHooks{
		open:    func() { opened++ },
		close:   func() { closed++ },
		message: func(msg InboundMessage) { got = append(got, msg) },
	})

	peer := newFakeChannel(ChannelLabel)
	ch.pair(peer)
	ch.open()
	peer.open()

	peer.SendText(`{"type":"ping"}`)
	peer.Send([]byte{1, 2, 3})
	ch.Close()

	if opened != 1 || closed != 1 {
		t.Errorf("open hook = %d, close hook = %d", opened, closed)
	}
	if len(got) != 2 || got[0].Kind != StructuredMessage || got[1].Kind != BinaryChunk {
		t.Errorf("received %+v", got)
	}
	if m.Ready() {
		t.Error("Ready() after channel closed")
	}
}

func TestChannelManagerAdoptsOpenChannel(t *testing.T) {
	opened := 0
	m := newChannelManager(0, channelHooks{open: func() { opened++ }}, zerolog.Nop())

	ch := newFakeChannel(ChannelLabel)
	ch.open()
	m.attach(ch)

	if opened != 1 {
		t.Errorf("open hook ran %d times for an already open channel", opened)
	}
	if !m.Ready() {
		t.Error("Ready() = false")
	}
}
