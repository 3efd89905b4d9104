package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/warplink/internal/signaling"
)

var (
	// ErrCandidateGatherTimeout is informational: gathering stopped at its
	// deadline and negotiation went on with the candidates found so far.
	ErrCandidateGatherTimeout    = errors.New("candidate gathering timed out")
	ErrHandshakeFailed           = errors.New("handshake failed")
	ErrIceNegotiationFailed      = errors.New("ICE negotiation failed")
	ErrChannelClosedUnexpectedly = errors.New("data channel closed unexpectedly")
	ErrNotConnected              = errors.New("session not connected")
	ErrAlreadyConnected          = errors.New("session already started")
	ErrClosed                    = errors.New("session closed")
	ErrNegotiationTimeout        = errors.New("negotiation timed out")
	ErrInvalidRoom               = errors.New("invalid room token")
	ErrNotStructured             = errors.New("message is not structured")
)

// Reasons carried by the disconnect event.
const (
	ReasonIceFailed     = "ICE negotiation failed"
	ReasonChannelClosed = "Data channel closed"
)

// Error records the operation and handshake step a failure happened in.
type Error struct {
	Op      string
	Step    Step
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Step != StepIdle {
		msg += " (" + e.Step.String() + ")"
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v: %s", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// Retryable reports whether starting over with a fresh room token is
// likely to help. Relay rejections, malformed descriptions and explicit
// cancellation are not retried.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, signaling.ErrSignalingTimeout),
		errors.Is(err, signaling.ErrRoomConflict),
		errors.Is(err, signaling.ErrRoomExpired),
		errors.Is(err, signaling.ErrRelayUnreachable),
		errors.Is(err, ErrNegotiationTimeout),
		errors.Is(err, ErrIceNegotiationFailed),
		errors.Is(err, ErrChannelClosedUnexpectedly):
		return true
	default:
		return false
	}
}
