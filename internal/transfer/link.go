package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/webrtc"
)

// Link is the part of a connected session a transfer needs.
// *session.Session satisfies it.
type Link interface {
	Send(data []byte) error
	SendJSON(v any) error
	On(kind session.EventKind, fn session.Handler) func()
	// Channel is used for flow control and may be nil.
	Channel() webrtc.Channel
	Done() <-chan struct{}
}

var _ Link = (*session.Session)(nil)

// inbox turns session events into a stream a transfer can block on.
type inbox struct {
	msgs chan session.InboundMessage
	lost chan struct{}
	done <-chan struct{}

	lostOnce sync.Once
	offs     []func()
}

func newInbox(link Link) *inbox {
	in := &inbox{
		msgs: make(chan session.InboundMessage, 64),
		lost: make(chan struct{}),
		done: link.Done(),
	}
	in.offs = append(in.offs,
		link.On(session.EventMessage, func(ev session.Event) {
			select {
			case in.msgs <- ev.Message:
			case <-in.lost:
			case <-in.done:
			}
		}),
		link.On(session.EventDisconnect, func(session.Event) { in.markLost() }),
		link.On(session.EventClose, func(session.Event) { in.markLost() }),
	)
	return in
}

func (in *inbox) markLost() {
	in.lostOnce.Do(func() { close(in.lost) })
}

// next returns the next inbound message. Queued messages are still
// delivered after the peer is gone.
func (in *inbox) next(ctx context.Context, timeout time.Duration) (session.InboundMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-in.msgs:
		return msg, nil
	default:
	}

	select {
	case msg := <-in.msgs:
		return msg, nil
	case <-in.lost:
		return session.InboundMessage{}, ErrPeerDisconnected
	case <-in.done:
		return session.InboundMessage{}, ErrPeerDisconnected
	case <-ctx.Done():
		return session.InboundMessage{}, WrapError("wait", ErrTransferCancelled, ctx.Err().Error())
	case <-timer.C:
		return session.InboundMessage{}, WrapError("wait", ErrPeerSilent, "nothing for "+timeout.String())
	}
}

// nextControl waits for a control message. A binary frame in its place is
// a protocol error.
func (in *inbox) nextControl(ctx context.Context, timeout time.Duration) (*Control, error) {
	msg, err := in.next(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if msg.Kind != session.StructuredMessage {
		return nil, unexpected("wait control", msg.Kind.String())
	}
	return ParseControl(msg)
}

func (in *inbox) close() {
	for _, off := range in.offs {
		off()
	}
}
