package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/BioHazard786/warplink/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Step is a state of the offer/answer handshake.
type Step int32

const (
	StepIdle Step = iota
	StepCreatingLocalDescription
	StepGatheringCandidates
	StepExchangingDescriptions
	StepApplyingRemoteDescription
	StepComplete
	StepFailed
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepCreatingLocalDescription:
		return "creating local description"
	case StepGatheringCandidates:
		return "gathering candidates"
	case StepExchangingDescriptions:
		return "exchanging descriptions"
	case StepApplyingRemoteDescription:
		return "applying remote description"
	case StepComplete:
		return "complete"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handshake runs one offer/answer exchange for a fixed role. Steps run
// strictly in sequence; the first failure ends the run.
type Handshake struct {
	peer          webrtc.PeerHandle
	transport     signaling.Transport
	roomID        string
	role          Role
	gatherTimeout time.Duration
	waitTimeout   time.Duration
	log           zerolog.Logger

	step   atomic.Int32
	result GatherResult
}

// HandshakeConfig carries the timeouts of a handshake.
type HandshakeConfig struct {
	GatherTimeout time.Duration
	WaitTimeout   time.Duration
}

func NewHandshake(peer webrtc.PeerHandle, transport signaling.Transport, roomID string, role Role, cfg HandshakeConfig, log zerolog.Logger) *Handshake {
	return &Handshake{
		peer:          peer,
		transport:     transport,
		roomID:        roomID,
		role:          role,
		gatherTimeout: cfg.GatherTimeout,
		waitTimeout:   cfg.WaitTimeout,
		log:           log,
	}
}

// Step returns the current step.
func (h *Handshake) Step() Step {
	return Step(h.step.Load())
}

// Gathered returns how candidate gathering ended.
func (h *Handshake) Gathered() GatherResult {
	return h.result
}

// Run performs the handshake. Errors are *Error values naming the failed
// step; signaling errors are kept in the chain.
func (h *Handshake) Run(ctx context.Context) error {
	var err error
	if h.role == Initiator {
		err = h.runInitiator(ctx)
	} else {
		err = h.runResponder(ctx)
	}
	if err != nil {
		failedAt := h.Step()
		h.enter(StepFailed)
		var sessErr *Error
		if errors.As(err, &sessErr) {
			sessErr.Step = failedAt
			return sessErr
		}
		return &Error{Op: "handshake", Step: failedAt, Err: err}
	}
	h.enter(StepComplete)
	return nil
}

func (h *Handshake) runInitiator(ctx context.Context) error {
	h.enter(StepCreatingLocalDescription)
	offer, err := h.peer.CreateOffer()
	if err != nil {
		return WrapError("create offer", ErrHandshakeFailed, err.Error())
	}
	if err := h.peer.SetLocalDescription(offer); err != nil {
		return WrapError("set local description", ErrHandshakeFailed, err.Error())
	}

	h.enter(StepGatheringCandidates)
	h.result = Gather(ctx, h.peer, h.gatherTimeout, h.log)

	h.enter(StepExchangingDescriptions)
	if err := h.sendLocal(ctx); err != nil {
		return err
	}
	answer, err := h.awaitRemote(ctx, pion.SDPTypeAnswer)
	if err != nil {
		return err
	}

	h.enter(StepApplyingRemoteDescription)
	if err := h.peer.SetRemoteDescription(answer); err != nil {
		return WrapError("set remote description", ErrHandshakeFailed, err.Error())
	}
	return nil
}

func (h *Handshake) runResponder(ctx context.Context) error {
	h.enter(StepExchangingDescriptions)
	offer, err := h.awaitRemote(ctx, pion.SDPTypeOffer)
	if err != nil {
		return err
	}

	h.enter(StepApplyingRemoteDescription)
	if err := h.peer.SetRemoteDescription(offer); err != nil {
		return WrapError("set remote description", ErrHandshakeFailed, err.Error())
	}

	h.enter(StepCreatingLocalDescription)
	answer, err := h.peer.CreateAnswer()
	if err != nil {
		return WrapError("create answer", ErrHandshakeFailed, err.Error())
	}
	if err := h.peer.SetLocalDescription(answer); err != nil {
		return WrapError("set local description", ErrHandshakeFailed, err.Error())
	}

	h.enter(StepGatheringCandidates)
	h.result = Gather(ctx, h.peer, h.gatherTimeout, h.log)

	h.enter(StepExchangingDescriptions)
	return h.sendLocal(ctx)
}

// sendLocal sends the local description with every candidate gathered so far.
func (h *Handshake) sendLocal(ctx context.Context) error {
	desc := h.peer.LocalDescription()
	if desc == nil {
		return WrapError("send description", ErrHandshakeFailed, "no local description")
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return WrapError("send description", ErrHandshakeFailed, err.Error())
	}
	if err := h.transport.Send(ctx, h.roomID, payload); err != nil {
		return &Error{Op: "send description", Err: err}
	}
	h.log.Debug().Str("type", desc.Type.String()).Bool("complete", h.result.Complete).Msg("local description sent")
	return nil
}

// awaitRemote waits up to the wait timeout for the counterpart's
// description. A relay that ends a long-poll early with a timeout is
// polled again while the wait timeout has time left.
func (h *Handshake) awaitRemote(ctx context.Context, want pion.SDPType) (pion.SessionDescription, error) {
	deadline := time.Now().Add(h.waitTimeout)

	var raw json.RawMessage
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pion.SessionDescription{}, &Error{Op: "await description", Err: signaling.ErrSignalingTimeout, Details: fmt.Sprintf("no %s within %s", want, h.waitTimeout)}
		}

		var err error
		raw, err = h.transport.Await(ctx, h.roomID, remaining)
		if err == nil {
			break
		}
		var sigErr *signaling.Error
		if errors.As(err, &sigErr) && sigErr.Relay() && errors.Is(err, signaling.ErrSignalingTimeout) && time.Until(deadline) > 0 && ctx.Err() == nil {
			h.log.Trace().Msg("relay long-poll expired, polling again")
			continue
		}
		return pion.SessionDescription{}, &Error{Op: "await description", Err: err}
	}

	var desc pion.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, WrapError("decode description", ErrHandshakeFailed, err.Error())
	}
	if desc.Type != want || desc.SDP == "" {
		return desc, WrapError("decode description", ErrHandshakeFailed, fmt.Sprintf("expected %s, got %q", want, desc.Type.String()))
	}
	h.log.Debug().Str("type", desc.Type.String()).Msg("remote description received")
	return desc, nil
}

func (h *Handshake) enter(step Step) {
	h.step.Store(int32(step))
	h.log.Trace().Str("step", step.String()).Msg("handshake step")
}
