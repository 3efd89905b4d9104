package transfer

import "github.com/BioHazard786/warplink/internal/utils"

// Control message types, sent as JSON text messages.
const (
	MessageTypeFilesMetadata   = "files_metadata"
	MessageTypeDeviceInfo      = "device_info"
	MessageTypeReadyToReceive  = "ready_to_receive"
	MessageTypeDownloadingDone = "downloading_done"
	MessageTypeDeclineReceive  = "decline_receive"
)

const (
	HighWaterMark = utils.HighWaterMark
	LowWaterMark  = utils.LowWaterMark

	// MaxFramePayload keeps a msgpack chunk frame under the 64 KiB SCTP
	// message limit.
	MaxFramePayload = 60 * 1024

	SendTimeout   = utils.SendTimeout
	DrainTimeout  = utils.DrainTimeout
	SignalTimeout = utils.SignalTimeout
)

type Options struct {
	OutputDir string

	// Consent is asked before any file is accepted. Nil accepts everything.
	Consent func([]FileMetadata) bool

	Progress Progress
}
