package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/dns"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WSTransport multiplexes send, wait and probe requests over a single
// WebSocket to the relay. Replies are matched to requests by id, so a
// reply to an abandoned request is dropped instead of reaching a later call.
type WSTransport struct {
	base      *url.URL
	peerID    string
	roundTrip time.Duration
	dialer    *websocket.Dialer

	closer    closer
	closeOnce sync.Once

	mu   sync.Mutex
	conn *wsConn
}

// wsConn is one live connection. A broken connection is replaced on the
// next call.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Reply

	done chan struct{}
	err  error
}

// NewWSTransport creates a WebSocket transport. The connection is dialled
// lazily by the first call.
func NewWSTransport(base *url.URL, peerID string, opts Options) *WSTransport {
	return &WSTransport{
		base:      base,
		peerID:    peerID,
		roundTrip: opts.roundTrip(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			NetDialContext:   dns.DialContext,
			HandshakeTimeout: opts.roundTrip(),
		},
		closer: newCloser(),
	}
}

func (t *WSTransport) Send(ctx context.Context, roomID string, message json.RawMessage) error {
	const op = "send envelope"
	reply, err := t.call(ctx, op, Request{Type: FrameSend, RoomID: roomID, Message: message}, t.roundTrip)
	if err != nil {
		return err
	}
	if reply.Status/100 != 2 {
		return statusError(op, reply.Status, reply.Error)
	}
	log.Debug().Str("module", "signaling").Str("room", roomID).Int("bytes", len(message)).Msg("envelope sent")
	return nil
}

func (t *WSTransport) Await(ctx context.Context, roomID string, timeout time.Duration) (json.RawMessage, error) {
	const op = "await envelope"
	req := Request{Type: FrameWait, RoomID: roomID, TimeoutMs: timeout.Milliseconds()}
	reply, err := t.call(ctx, op, req, timeout+t.roundTrip)
	if err != nil {
		return nil, err
	}
	if reply.Status != http.StatusOK {
		return nil, statusError(op, reply.Status, reply.Error)
	}
	if reply.Type != FrameMessage || len(reply.Message) == 0 {
		return nil, &Error{Op: op, Err: ErrRelayRejected, Status: reply.Status, Details: "malformed wait reply"}
	}
	log.Debug().Str("module", "signaling").Str("room", roomID).Int("bytes", len(reply.Message)).Msg("envelope received")
	return reply.Message, nil
}

func (t *WSTransport) Probe(ctx context.Context, roomID string, timeout time.Duration) (bool, error) {
	const op = "probe room"
	req := Request{Type: FrameProbe, RoomID: roomID, TimeoutMs: timeout.Milliseconds()}
	reply, err := t.call(ctx, op, req, timeout)
	if err != nil {
		return false, err
	}
	switch reply.Status {
	case http.StatusOK:
		return reply.Occupied, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(op, reply.Status, reply.Error)
	}
}

func (t *WSTransport) Leave(ctx context.Context, roomID string) error {
	const op = "leave room"
	reply, err := t.call(ctx, op, Request{Type: FrameLeave, RoomID: roomID}, t.roundTrip)
	if err != nil {
		return err
	}
	if reply.Status/100 != 2 {
		return statusError(op, reply.Status, reply.Error)
	}
	log.Debug().Str("module", "signaling").Str("room", roomID).Msg("left room")
	return nil
}

// Close aborts in-flight calls and closes the connection.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closer.cancel()

		t.mu.Lock()
		c := t.conn
		t.conn = nil
		t.mu.Unlock()

		if c != nil {
			c.writeMu.Lock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.writeMu.Unlock()
			err = c.conn.Close()
		}
	})
	return err
}

func (t *WSTransport) call(ctx context.Context, op string, req Request, limit time.Duration) (Reply, error) {
	if t.closer.closed() {
		return Reply{}, NewError(op, ErrTransportClosed)
	}

	callCtx, cancel := t.closer.bind(ctx, limit)
	defer cancel()

	c, err := t.connect(callCtx)
	if err != nil {
		return Reply{}, t.closer.classify(op, ctx, limit, err)
	}

	req.ID = uuid.NewString()
	replies := c.register(req.ID)
	if err := c.write(req); err != nil {
		c.unregister(req.ID)
		return Reply{}, t.closer.classify(op, ctx, limit, err)
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-c.done:
		if t.closer.closed() {
			return Reply{}, NewError(op, ErrTransportClosed)
		}
		return Reply{}, &Error{Op: op, Err: ErrRelayUnreachable, Cause: c.err}
	case <-callCtx.Done():
		c.unregister(req.ID)
		if req.Type == FrameWait {
			// Lets the relay hand a not-yet-delivered envelope to the next wait.
			c.write(Request{ID: req.ID, Type: FrameCancel, RoomID: req.RoomID})
		}
		return Reply{}, t.closer.classify(op, ctx, limit, callCtx.Err())
	}
}

func (t *WSTransport) connect(ctx context.Context) (*wsConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		select {
		case <-t.conn.done:
		default:
			return t.conn, nil
		}
	}

	u := *t.base
	u.Path = u.Path + "/signal/ws"
	u.RawQuery = url.Values{"peerId": {t.peerID}}.Encode()

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &Error{Op: "connect", Err: ErrRelayRejected, Status: resp.StatusCode, Cause: err}
		}
		return nil, err
	}

	c := &wsConn{
		conn:    conn,
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.pingLoop(t.closer.ctx)

	t.conn = c
	log.Debug().Str("module", "signaling").Str("url", u.String()).Msg("websocket connected")
	return c, nil
}

func (c *wsConn) register(id string) chan Reply {
	ch := make(chan Reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *wsConn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *wsConn) write(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(req)
}

// readPump routes replies to their pending calls until the connection fails.
func (c *wsConn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.done)
	}()

	for {
		var reply Reply
		if err := c.conn.ReadJSON(&reply); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Str("module", "signaling").Err(err).Msg("websocket read failed")
			}
			c.err = err
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.ID]
		delete(c.pending, reply.ID)
		c.mu.Unlock()

		if !ok {
			log.Debug().Str("module", "signaling").Str("id", reply.ID).Str("type", reply.Type).Msg("discarding reply to abandoned request")
			continue
		}
		ch <- reply
	}
}

func (c *wsConn) pingLoop(closed context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		case <-closed.Done():
			return
		}
	}
}
