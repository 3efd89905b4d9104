package webrtc

import (
	"fmt"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerHandle is the capability set the negotiation engine needs from the
// transport stack. The production implementation wraps a pion
// PeerConnection; tests substitute an in-memory fake.
type PeerHandle interface {
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(pion.SessionDescription) error
	SetRemoteDescription(pion.SessionDescription) error
	// LocalDescription returns the local description including every
	// candidate gathered so far.
	LocalDescription() *pion.SessionDescription

	GatheringState() pion.ICEGatheringState
	// GatheringComplete returns a channel closed once candidate gathering
	// finishes. It is safe to call after gathering already completed.
	GatheringComplete() <-chan struct{}

	CreateChannel(label string, maxRetransmits uint16) (Channel, error)
	OnChannel(func(Channel))
	OnConnectionStateChange(func(pion.PeerConnectionState))
	OnTrack(func(*pion.TrackRemote, *pion.RTPReceiver))
	AddTrack(pion.TrackLocal) (*pion.RTPSender, error)

	Close() error
}

// Channel is a reliable ordered message channel layered on a PeerHandle.
// *pion.DataChannel satisfies it directly.
type Channel interface {
	Label() string
	ReadyState() pion.DataChannelState
	Send([]byte) error
	SendText(string) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(uint64)
	OnBufferedAmountLow(func())
	OnOpen(func())
	OnClose(func())
	OnMessage(func(pion.DataChannelMessage))
	Close() error
}

// Compile-time interface checks.
var (
	_ Channel    = (*pion.DataChannel)(nil)
	_ PeerHandle = (*Peer)(nil)
)

// Factory creates a fresh PeerHandle for one session.
type Factory func() (PeerHandle, error)

// Peer is the pion-backed PeerHandle.
type Peer struct {
	pc *pion.PeerConnection
}

// NewFactory returns a Factory producing pion peers configured from opts.
func NewFactory(opts Options) Factory {
	return func() (PeerHandle, error) {
		return NewPeer(opts)
	}
}

// NewPeer creates a pion PeerConnection with the ICE servers and policy
// described by opts.
func NewPeer(opts Options) (*Peer, error) {
	settingEngine := pion.SettingEngine{}
	settingEngine.LoggerFactory = NewLoggerFactory(log.Logger)
	if opts.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}

	api := pion.NewAPI(pion.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(opts.Configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &Peer{pc: pc}, nil
}

func (p *Peer) CreateOffer() (pion.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (pion.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(desc pion.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *Peer) SetRemoteDescription(desc pion.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *Peer) LocalDescription() *pion.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *Peer) GatheringState() pion.ICEGatheringState {
	return p.pc.ICEGatheringState()
}

func (p *Peer) GatheringComplete() <-chan struct{} {
	return pion.GatheringCompletePromise(p.pc)
}

// CreateChannel opens an ordered channel with a bounded retransmission
// count. A zero maxRetransmits leaves the channel fully reliable.
func (p *Peer) CreateChannel(label string, maxRetransmits uint16) (Channel, error) {
	ordered := true
	init := &pion.DataChannelInit{Ordered: &ordered}
	if maxRetransmits > 0 {
		init.MaxRetransmits = &maxRetransmits
	}

	dc, err := p.pc.CreateDataChannel(label, init)
	if err != nil {
		return nil, fmt.Errorf("create data channel %s: %w", label, err)
	}
	return dc, nil
}

func (p *Peer) OnChannel(fn func(Channel)) {
	p.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(dc)
	})
}

func (p *Peer) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *Peer) OnTrack(fn func(*pion.TrackRemote, *pion.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

func (p *Peer) AddTrack(track pion.TrackLocal) (*pion.RTPSender, error) {
	return p.pc.AddTrack(track)
}

// Close is safe to call more than once; pion ignores repeated closes.
func (p *Peer) Close() error {
	return p.pc.Close()
}
