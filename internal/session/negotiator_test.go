package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/rs/zerolog"
)

func TestNegotiatorDecide(t *testing.T) {
	tests := []struct {
		name     string
		occupied bool
		err      error
		want     Role
	}{
		{"empty room", false, nil, Initiator},
		{"occupied room", true, nil, Responder},
		{"probe timeout", false, signaling.NewError("probe", signaling.ErrSignalingTimeout), Initiator},
		{"relay down", true, errors.New("connection refused"), Initiator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &stubTransport{occupied: tt.occupied, probeErr: tt.err}
			n := NewNegotiator(tr, 0, zerolog.Nop())
			if got := n.Decide(context.Background(), "abc123"); got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGatherReturnsAtTimeout(t *testing.T) {
	f := newFabric()
	f.neverGather = true
	peer, _ := f.factory()()
	offer, _ := peer.CreateOffer()
	peer.SetLocalDescription(offer)

	start := time.Now()
	res := Gather(context.Background(), peer, 50*time.Millisecond, zerolog.Nop())
	elapsed := time.Since(start)

	if res.Complete {
		t.Error("Gather() reported complete for a peer that never finishes")
	}
	if elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("Gather() took %v, want about 50ms", elapsed)
	}
}

func TestGatherAlreadyComplete(t *testing.T) {
	peer, _ := newFabric().factory()()
	offer, _ := peer.CreateOffer()
	peer.SetLocalDescription(offer)

	res := Gather(context.Background(), peer, time.Hour, zerolog.Nop())
	if !res.Complete || res.Elapsed != 0 {
		t.Errorf("Gather() = %+v, want immediate completion", res)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&signaling.Error{Op: "send", Err: signaling.ErrRoomConflict, Status: 409}, true},
		{&Error{Op: "await description", Err: &signaling.Error{Op: "await", Err: signaling.ErrRoomExpired, Status: 410}}, true},
		{signaling.NewError("probe", signaling.ErrRelayUnreachable), true},
		{NewError("init", ErrNegotiationTimeout), true},
		{NewError("connection", ErrIceNegotiationFailed), true},
		{&signaling.Error{Op: "send", Err: signaling.ErrRelayRejected, Status: 400}, false},
		{WrapError("decode description", ErrHandshakeFailed, "bad sdp"), false},
		{NewError("init", ErrClosed), false},
		{&Error{Op: "init", Err: context.Canceled}, false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
