package signaling

import "encoding/json"

// Envelope is the body of POST /signal/send.
type Envelope struct {
	RoomID  string          `json:"roomId"`
	PeerID  string          `json:"peerId"`
	Message json.RawMessage `json:"message"`
}

// LeaveRequest is the body of POST /signal/leave.
type LeaveRequest struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

// WaitResponse is the body of a successful GET /signal/wait.
type WaitResponse struct {
	Message json.RawMessage `json:"message"`
}

// ErrorResponse is the body of a relay error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Frame types on the /signal/ws connection.
const (
	FrameSend   = "send"
	FrameWait   = "wait"
	FrameProbe  = "probe"
	FrameCancel = "cancel"
	FrameLeave  = "leave"

	FrameAck     = "ack"
	FrameMessage = "message"
	FrameError   = "error"
)

// Request is a client frame on the WebSocket transport. ID correlates the
// reply; a cancel frame carries the ID of the wait it abandons.
type Request struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
}

// Reply is a relay frame on the WebSocket transport. Status mirrors the
// HTTP status the same request would have produced.
type Reply struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Status   int             `json:"status"`
	Error    string          `json:"error,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Occupied bool            `json:"occupied,omitempty"`
}
