package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport moves envelopes between the two sides of a room through the
// relay. Implementations never retry.
type Transport interface {
	// Send delivers one envelope. It fails with ErrSignalingTimeout when the
	// relay does not acknowledge within the round-trip timeout.
	Send(ctx context.Context, roomID string, message json.RawMessage) error

	// Await blocks until the counterpart's next envelope arrives, the relay
	// reports an outcome, or timeout elapses.
	Await(ctx context.Context, roomID string, timeout time.Duration) (json.RawMessage, error)

	// Probe asks whether another peer is already present in the room. It
	// does not consume envelopes.
	Probe(ctx context.Context, roomID string, timeout time.Duration) (bool, error)

	// Leave gives up this peer's slot in the room so another attempt, by
	// this peer or a different one, can join.
	Leave(ctx context.Context, roomID string) error

	Close() error
}

// Transport kinds.
const (
	KindHTTP = "http"
	KindWS   = "ws"
)

const DefaultRoundTripTimeout = 10 * time.Second

// Options tune a transport.
type Options struct {
	// RoundTripTimeout bounds Send and is added to Await's timeout as a
	// local grace period.
	RoundTripTimeout time.Duration

	// HTTPClient replaces the default client of the HTTP transport.
	HTTPClient *http.Client
}

func (o Options) roundTrip() time.Duration {
	if o.RoundTripTimeout <= 0 {
		return DefaultRoundTripTimeout
	}
	return o.RoundTripTimeout
}

// New returns the transport of the given kind talking to the relay at
// baseURL on behalf of peerID.
func New(kind, baseURL, peerID string, opts Options) (Transport, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	if peerID == "" {
		return nil, errors.New("peer id is required")
	}

	switch kind {
	case KindHTTP, "":
		return NewHTTPTransport(withScheme(base, "http", "https"), peerID, opts), nil
	case KindWS:
		return NewWSTransport(withScheme(base, "ws", "wss"), peerID, opts), nil
	default:
		return nil, fmt.Errorf("unknown signaling transport %q", kind)
	}
}

// withScheme rewrites base to the plain or TLS scheme of a transport,
// keeping whether the relay was addressed over TLS.
func withScheme(base *url.URL, plain, secure string) *url.URL {
	u := *base
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = secure
	default:
		u.Scheme = plain
	}
	return &u
}

// closer lets Close abort every in-flight call.
type closer struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newCloser() closer {
	ctx, cancel := context.WithCancel(context.Background())
	return closer{ctx: ctx, cancel: cancel}
}

func (c closer) closed() bool {
	return c.ctx.Err() != nil
}

// bind derives a call context that ends with parent, after timeout, or
// when the transport closes.
func (c closer) bind(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// classify turns a failed call into an *Error, keeping local timeouts,
// caller cancellation, shutdown and network failures apart.
func (c closer) classify(op string, parent context.Context, limit time.Duration, err error) error {
	var sigErr *Error
	if errors.As(err, &sigErr) {
		return err
	}
	switch {
	case c.closed():
		return &Error{Op: op, Err: ErrTransportClosed}
	case parent.Err() != nil:
		return &Error{Op: op, Err: parent.Err(), Cause: err}
	case isTimeout(err):
		return &Error{Op: op, Err: ErrSignalingTimeout, Details: fmt.Sprintf("no answer from relay within %s", limit), Cause: err}
	default:
		return &Error{Op: op, Err: ErrRelayUnreachable, Cause: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
