package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/BioHazard786/warplink/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
)

var errChannelNotOpen = errors.New("channel not open")

// fabric connects fake peers to each other by the name carried in their
// session descriptions.
type fabric struct {
	mu    sync.Mutex
	next  int
	peers map[string]*fakePeer
	list  []*fakePeer

	// neverGather makes new peers hang in candidate gathering.
	neverGather bool
}

func newFabric() *fabric {
	return &fabric{peers: make(map[string]*fakePeer)}
}

func (f *fabric) factory() webrtc.Factory {
	return func() (webrtc.PeerHandle, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.next++
		p := &fakePeer{
			fabric:    f,
			name:      fmt.Sprintf("peer-%d", f.next),
			gathered:  make(chan struct{}),
			noGather:  f.neverGather,
			gathering: pion.ICEGatheringStateNew,
		}
		f.peers[p.name] = p
		f.list = append(f.list, p)
		return p, nil
	}
}

// peer returns the i-th peer the factory created.
func (f *fabric) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.list) {
		return nil
	}
	return f.list[i]
}

func (f *fabric) lookup(name string) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[name]
}

type fakePeer struct {
	fabric *fabric
	name   string

	mu        sync.Mutex
	local     *pion.SessionDescription
	remote    *pion.SessionDescription
	gathering pion.ICEGatheringState
	gathered  chan struct{}
	noGather  bool
	ready     bool
	linked    bool
	closed    bool

	channel   *fakeChannel
	onChannel func(webrtc.Channel)
	onState   func(pion.PeerConnectionState)
}

func (p *fakePeer) CreateOffer() (pion.SessionDescription, error) {
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "fake:" + p.name}, nil
}

func (p *fakePeer) CreateAnswer() (pion.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return pion.SessionDescription{}, errors.New("no remote offer")
	}
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "fake:" + p.name}, nil
}

func (p *fakePeer) SetLocalDescription(desc pion.SessionDescription) error {
	p.mu.Lock()
	p.local = &desc
	switch {
	case p.noGather:
		p.gathering = pion.ICEGatheringStateGathering
	case p.gathering != pion.ICEGatheringStateComplete:
		p.gathering = pion.ICEGatheringStateComplete
		close(p.gathered)
	}
	p.mu.Unlock()
	p.maybeLink()
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc pion.SessionDescription) error {
	if !strings.HasPrefix(desc.SDP, "fake:") {
		return errors.New("unparseable description")
	}
	p.mu.Lock()
	p.remote = &desc
	p.mu.Unlock()
	p.maybeLink()
	return nil
}

func (p *fakePeer) LocalDescription() *pion.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePeer) GatheringState() pion.ICEGatheringState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gathering
}

func (p *fakePeer) GatheringComplete() <-chan struct{} {
	return p.gathered
}

func (p *fakePeer) CreateChannel(label string, _ uint16) (webrtc.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = newFakeChannel(label)
	return p.channel, nil
}

func (p *fakePeer) OnChannel(fn func(webrtc.Channel)) {
	p.mu.Lock()
	p.onChannel = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(func(*pion.TrackRemote, *pion.RTPReceiver)) {}

func (p *fakePeer) AddTrack(pion.TrackLocal) (*pion.RTPSender, error) {
	return nil, nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	ch := p.channel
	p.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fire reports a connection state change to the session.
func (p *fakePeer) fire(st pion.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// maybeLink connects p to its counterpart once both sides hold both
// descriptions.
func (p *fakePeer) maybeLink() {
	p.mu.Lock()
	if p.local == nil || p.remote == nil || p.closed {
		p.mu.Unlock()
		return
	}
	p.ready = true
	remoteName := strings.TrimPrefix(p.remote.SDP, "fake:")
	p.mu.Unlock()

	other := p.fabric.lookup(remoteName)
	if other == nil {
		return
	}

	// Lock order by name so both sides agree.
	first, second := p, other
	if first.name > second.name {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	if !first.ready || !second.ready || first.linked {
		second.mu.Unlock()
		first.mu.Unlock()
		return
	}
	first.linked, second.linked = true, true

	offerer, answerer := p, other
	if p.channel == nil {
		offerer, answerer = other, p
	}
	local := offerer.channel
	var remote *fakeChannel
	var deliver func(webrtc.Channel)
	if local != nil {
		remote = newFakeChannel(local.label)
		local.pair(remote)
		answerer.channel = remote
		deliver = answerer.onChannel
	}
	second.mu.Unlock()
	first.mu.Unlock()

	go func() {
		if deliver != nil {
			deliver(remote)
		}
		offerer.fire(pion.PeerConnectionStateConnected)
		answerer.fire(pion.PeerConnectionStateConnected)
		if local != nil {
			local.open()
			remote.open()
		}
	}()
}

type fakeChannel struct {
	label string

	mu        sync.Mutex
	state     pion.DataChannelState
	remote    *fakeChannel
	refuse    int
	sent      []string
	onOpen    func()
	onClose   func()
	onMessage func(pion.DataChannelMessage)
}

func newFakeChannel(label string) *fakeChannel {
	return &fakeChannel{label: label, state: pion.DataChannelStateConnecting}
}

func (c *fakeChannel) pair(other *fakeChannel) {
	c.remote = other
	other.remote = c
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) ReadyState() pion.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Send(data []byte) error {
	return c.send(pion.DataChannelMessage{Data: data})
}

func (c *fakeChannel) SendText(text string) error {
	return c.send(pion.DataChannelMessage{IsString: true, Data: []byte(text)})
}

func (c *fakeChannel) send(msg pion.DataChannelMessage) error {
	c.mu.Lock()
	if c.state != pion.DataChannelStateOpen {
		c.mu.Unlock()
		return errChannelNotOpen
	}
	if c.refuse > 0 {
		c.refuse--
		c.mu.Unlock()
		return errors.New("send buffer full")
	}
	c.sent = append(c.sent, string(msg.Data))
	remote := c.remote
	c.mu.Unlock()

	if remote != nil {
		remote.mu.Lock()
		fn := remote.onMessage
		remote.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
	return nil
}

func (c *fakeChannel) BufferedAmount() uint64               { return 0 }
func (c *fakeChannel) SetBufferedAmountLowThreshold(uint64) {}
func (c *fakeChannel) OnBufferedAmountLow(func())           {}

func (c *fakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(fn func(pion.DataChannelMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	c.state = pion.DataChannelStateOpen
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close closes the channel locally and fires the close callback once.
func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if c.state == pion.DataChannelStateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = pion.DataChannelStateClosed
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (c *fakeChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// stubTransport is a scripted signaling transport.
type stubTransport struct {
	mu       sync.Mutex
	occupied bool
	probeErr error
	sendErr  error
	await    func(ctx context.Context) (json.RawMessage, error)
	sent     []json.RawMessage
	left     []string
	closed   bool
}

func (t *stubTransport) Send(_ context.Context, _ string, msg json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *stubTransport) Await(ctx context.Context, _ string, timeout time.Duration) (json.RawMessage, error) {
	t.mu.Lock()
	fn := t.await
	t.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, &signaling.Error{Op: "await", Err: signaling.ErrSignalingTimeout, Status: 408}
	}
}

func (t *stubTransport) Probe(context.Context, string, time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.occupied, t.probeErr
}

func (t *stubTransport) Leave(_ context.Context, roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return &signaling.Error{Op: "leave", Err: signaling.ErrTransportClosed}
	}
	t.left = append(t.left, roomID)
	return nil
}

func (t *stubTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *stubTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *stubTransport) leftRooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.left...)
}
