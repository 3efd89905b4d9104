package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/dns"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 1 << 20

// HTTPTransport talks to the relay with one request per send and a
// long-poll per await.
type HTTPTransport struct {
	base      *url.URL
	peerID    string
	client    *http.Client
	roundTrip time.Duration

	closer    closer
	closeOnce sync.Once
}

// NewHTTPTransport creates a long-poll transport. Unless opts carries a
// client, host names are resolved with public-DNS fallback.
func NewHTTPTransport(base *url.URL, peerID string, opts Options) *HTTPTransport {
	client := opts.HTTPClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dns.DialContext
		client = &http.Client{Transport: transport}
	}
	return &HTTPTransport{
		base:      base,
		peerID:    peerID,
		client:    client,
		roundTrip: opts.roundTrip(),
		closer:    newCloser(),
	}
}

func (t *HTTPTransport) Send(ctx context.Context, roomID string, message json.RawMessage) error {
	const op = "send envelope"
	if t.closer.closed() {
		return NewError(op, ErrTransportClosed)
	}

	body, err := json.Marshal(Envelope{RoomID: roomID, PeerID: t.peerID, Message: message})
	if err != nil {
		return WrapError(op, ErrRelayRejected, fmt.Sprintf("encode envelope: %v", err))
	}

	callCtx, cancel := t.closer.bind(ctx, t.roundTrip)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.endpoint("/signal/send", nil), bytes.NewReader(body))
	if err != nil {
		return WrapError(op, ErrRelayRejected, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := t.do(req)
	if err != nil {
		return t.closer.classify(op, ctx, t.roundTrip, err)
	}
	if status/100 != 2 {
		return statusError(op, status, respBody)
	}

	log.Debug().Str("module", "signaling").Str("room", roomID).Int("bytes", len(message)).Msg("envelope sent")
	return nil
}

func (t *HTTPTransport) Await(ctx context.Context, roomID string, timeout time.Duration) (json.RawMessage, error) {
	const op = "await envelope"
	if t.closer.closed() {
		return nil, NewError(op, ErrTransportClosed)
	}

	query := url.Values{
		"roomId":  {roomID},
		"peerId":  {t.peerID},
		"timeout": {strconv.FormatInt(timeout.Milliseconds(), 10)},
	}

	// The relay answers 408 at timeout; the local deadline only fires when
	// it doesn't.
	limit := timeout + t.roundTrip
	callCtx, cancel := t.closer.bind(ctx, limit)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, t.endpoint("/signal/wait", query), nil)
	if err != nil {
		return nil, WrapError(op, ErrRelayRejected, err.Error())
	}

	status, body, err := t.do(req)
	if err != nil {
		return nil, t.closer.classify(op, ctx, limit, err)
	}
	if status != http.StatusOK {
		return nil, statusError(op, status, body)
	}

	var resp WaitResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil || len(resp.Message) == 0 {
		return nil, &Error{Op: op, Err: ErrRelayRejected, Status: status, Details: "malformed wait response"}
	}

	log.Debug().Str("module", "signaling").Str("room", roomID).Int("bytes", len(resp.Message)).Msg("envelope received")
	return resp.Message, nil
}

func (t *HTTPTransport) Probe(ctx context.Context, roomID string, timeout time.Duration) (bool, error) {
	const op = "probe room"
	if t.closer.closed() {
		return false, NewError(op, ErrTransportClosed)
	}

	query := url.Values{
		"roomId":  {roomID},
		"peerId":  {t.peerID},
		"timeout": {strconv.FormatInt(timeout.Milliseconds(), 10)},
		"probe":   {"1"},
	}

	callCtx, cancel := t.closer.bind(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, t.endpoint("/signal/wait", query), nil)
	if err != nil {
		return false, WrapError(op, ErrRelayRejected, err.Error())
	}

	status, body, err := t.do(req)
	if err != nil {
		return false, t.closer.classify(op, ctx, timeout, err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(op, status, body)
	}
}

func (t *HTTPTransport) Leave(ctx context.Context, roomID string) error {
	const op = "leave room"
	if t.closer.closed() {
		return NewError(op, ErrTransportClosed)
	}

	body, err := json.Marshal(LeaveRequest{RoomID: roomID, PeerID: t.peerID})
	if err != nil {
		return WrapError(op, ErrRelayRejected, fmt.Sprintf("encode leave: %v", err))
	}

	callCtx, cancel := t.closer.bind(ctx, t.roundTrip)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.endpoint("/signal/leave", nil), bytes.NewReader(body))
	if err != nil {
		return WrapError(op, ErrRelayRejected, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := t.do(req)
	if err != nil {
		return t.closer.classify(op, ctx, t.roundTrip, err)
	}
	if status/100 != 2 {
		return statusError(op, status, respBody)
	}

	log.Debug().Str("module", "signaling").Str("room", roomID).Msg("left room")
	return nil
}

// Close aborts in-flight requests. Later calls fail with ErrTransportClosed.
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(t.closer.cancel)
	return nil
}

func (t *HTTPTransport) endpoint(path string, query url.Values) string {
	u := *t.base
	u.Path = u.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (t *HTTPTransport) do(req *http.Request) (int, string, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}
