package transfer

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/warplink/internal/ui"
)

var (
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrPeerSilent        = errors.New("peer stopped responding")
	ErrChannelClosed     = errors.New("channel closed")
	ErrTransferDeclined  = errors.New("receiver declined the transfer")
	ErrTransferCancelled = errors.New("transfer cancelled")
	ErrBufferStalled     = errors.New("send buffer stopped draining")
	ErrInvalidFile       = errors.New("invalid file")
	ErrFilenameMismatch  = errors.New("chunk belongs to another file")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrMetadataFailed    = errors.New("failed to process metadata")
)

// Error records where a transfer broke off: the file and byte offset it
// had reached, and for protocol errors the kind of message that arrived
// out of turn.
type Error struct {
	Op      string
	File    string
	Offset  uint64
	Kind    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.File != "" {
		msg += " " + e.File
		if e.Offset > 0 {
			msg += fmt.Sprintf(" at byte %d", e.Offset)
		}
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Err)
	if e.Kind != "" {
		msg += " (got " + e.Kind + ")"
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Print shows the error on the terminal.
func (e *Error) Print() {
	ui.PrintError(e.Error())
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

func fileError(op, file string, offset uint64, err error) *Error {
	return &Error{Op: op, File: file, Offset: offset, Err: err}
}

// unexpected reports a message of kind arriving where the protocol
// expects something else.
func unexpected(op, kind string) *Error {
	return &Error{Op: op, Kind: kind, Err: ErrUnexpectedMessage}
}
