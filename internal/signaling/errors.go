package signaling

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrSignalingTimeout = errors.New("signaling timeout")
	ErrRelayRejected    = errors.New("relay rejected request")
	ErrRoomConflict     = errors.New("room conflict")
	ErrRoomExpired      = errors.New("room expired")
	ErrRelayUnreachable = errors.New("relay unreachable")
	ErrTransportClosed  = errors.New("signaling transport closed")
)

// Error describes a failed relay exchange. Err is one of the package
// sentinels; Cause holds the underlying network error, if any.
type Error struct {
	Op      string
	Err     error
	Status  int
	Details string
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Op, e.Err)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (relay status %d)", e.Status)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, ": %s", e.Details)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Relay reports whether the relay itself produced the error, as opposed to
// a local timeout or network failure.
func (e *Error) Relay() bool {
	return e.Status != 0
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// statusError maps a non-success relay status to its error kind.
func statusError(op string, status int, body string) *Error {
	kind := ErrRelayRejected
	switch status {
	case http.StatusRequestTimeout:
		kind = ErrSignalingTimeout
	case http.StatusConflict:
		kind = ErrRoomConflict
	case http.StatusGone:
		kind = ErrRoomExpired
	}
	return &Error{Op: op, Err: kind, Status: status, Details: strings.TrimSpace(body)}
}
