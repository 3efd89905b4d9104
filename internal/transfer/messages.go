package transfer

import (
	"encoding/json"
	"runtime"
	"strings"

	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/version"
	"github.com/vmihailenco/msgpack/v5"
)

// FileMetadata describes one offered file.
type FileMetadata struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
	Type string `json:"type"`
}

// Control is a JSON control message.
type Control struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeviceInfoPayload is sent by the receiver as soon as the session opens.
type DeviceInfoPayload struct {
	DeviceName    string `json:"deviceName"`
	DeviceVersion string `json:"deviceVersion"`
}

// ReadyToReceivePayload asks the sender for one file, from Offset on.
type ReadyToReceivePayload struct {
	FileName string `json:"fileName"`
	Offset   uint64 `json:"offset"`
}

// Chunk is a binary file frame.
type Chunk struct {
	FileName string `msgpack:"fileName"`
	Offset   uint64 `msgpack:"offset"`
	Bytes    []byte `msgpack:"bytes"`
	Final    bool   `msgpack:"final"`
}

// DecodePayload decodes the control payload into v.
func (c Control) DecodePayload(v any) error {
	return json.Unmarshal(c.Payload, v)
}

func NewControl(t string, payload any) (Control, error) {
	if payload == nil {
		return Control{Type: t}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Control{}, err
	}
	return Control{Type: t, Payload: b}, nil
}

func SendControl(link Link, msgType string, payload any) error {
	msg, err := NewControl(msgType, payload)
	if err != nil {
		return NewError("create message", err)
	}
	return link.SendJSON(msg)
}

func SendDeviceInfo(link Link) error {
	return SendControl(link, MessageTypeDeviceInfo, DeviceInfoPayload{
		DeviceName:    "CLI (" + runtime.GOOS + ")",
		DeviceVersion: strings.TrimPrefix(version.Version, "v"),
	})
}

func SendReadyToReceive(link Link, fileName string, offset uint64) error {
	return SendControl(link, MessageTypeReadyToReceive, ReadyToReceivePayload{
		FileName: fileName,
		Offset:   offset,
	})
}

func SendFilesMetadata(link Link, metadata []FileMetadata) error {
	return SendControl(link, MessageTypeFilesMetadata, metadata)
}

func SendChunk(link Link, chunk Chunk) error {
	data, err := msgpack.Marshal(chunk)
	if err != nil {
		return NewError("marshal chunk", err)
	}
	return link.Send(data)
}

// ParseControl decodes a structured message into a Control.
func ParseControl(msg session.InboundMessage) (*Control, error) {
	var c Control
	if err := msg.Decode(&c); err != nil {
		return nil, NewError("parse message", err)
	}
	if c.Type == "" {
		return nil, WrapError("parse message", ErrUnexpectedMessage, "missing type")
	}
	return &c, nil
}

// ParseChunk decodes a binary chunk frame.
func ParseChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, NewError("parse chunk", err)
	}
	return &c, nil
}
