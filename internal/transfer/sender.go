package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/BioHazard786/warplink/internal/files"
	"github.com/BioHazard786/warplink/internal/utils"
	"github.com/BioHazard786/warplink/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ChunkSender paces chunk frames against the channel's buffered amount.
type ChunkSender struct {
	link       Link
	channel    webrtc.Channel
	controller *utils.ChunkSizeController
	buffer     []byte
	window     chan struct{}
}

func NewChunkSender(link Link) *ChunkSender {
	s := &ChunkSender{
		link:       link,
		channel:    link.Channel(),
		controller: utils.NewChunkSizeController(),
		buffer:     make([]byte, MaxFramePayload),
		window:     make(chan struct{}, 1),
	}
	if s.channel != nil {
		s.channel.SetBufferedAmountLowThreshold(uint64(LowWaterMark))
		s.channel.OnBufferedAmountLow(func() {
			select {
			case s.window <- struct{}{}:
			default:
			}
		})
	}
	return s
}

// WaitForWindow blocks while the channel holds more than HighWaterMark
// unsent bytes.
func (s *ChunkSender) WaitForWindow(ctx context.Context) error {
	if s.channel == nil {
		return nil
	}
	buffered := s.channel.BufferedAmount()
	if buffered < uint64(HighWaterMark) {
		return nil
	}

	timer := time.NewTimer(SendTimeout)
	defer timer.Stop()
	select {
	case <-s.window:
		return nil
	case <-ctx.Done():
		return WrapError("send", ErrTransferCancelled, ctx.Err().Error())
	case <-s.link.Done():
		return ErrChannelClosed
	case <-timer.C:
		if s.channel.BufferedAmount() < buffered {
			return nil
		}
		return NewError("send", ErrBufferStalled)
	}
}

// WaitForDrain waits until the channel has flushed everything or closes.
func (s *ChunkSender) WaitForDrain() {
	if s.channel == nil {
		return
	}
	start := time.Now()
	for s.channel.BufferedAmount() > 0 && time.Since(start) < DrainTimeout {
		if s.channel.ReadyState() != pion.DataChannelStateOpen {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ChunkSize is the payload size for the next frame.
func (s *ChunkSender) ChunkSize() int {
	return min(s.controller.GetChunkSize(), MaxFramePayload)
}

// SendFile streams r, which holds size bytes starting at offset, as chunk
// frames named name.
func (s *ChunkSender) SendFile(ctx context.Context, r io.Reader, name string, offset, size uint64, onProgress func(uint64)) error {
	if size == 0 || offset >= size {
		return SendChunk(s.link, Chunk{FileName: name, Offset: offset, Final: true})
	}

	current := offset
	for current < size {
		if err := s.WaitForWindow(ctx); err != nil {
			return err
		}

		want := min(uint64(s.ChunkSize()), size-current)
		n, err := io.ReadFull(r, s.buffer[:want])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fileError("read", name, current, ErrInvalidFile)
			}
			return fileError("read", name, current, err)
		}

		final := current+uint64(n) >= size
		if err := SendChunk(s.link, Chunk{FileName: name, Offset: current, Bytes: s.buffer[:n], Final: final}); err != nil {
			return fileError("send", name, current, err)
		}

		current += uint64(n)
		s.controller.RecordBytesTransferred(int64(n))
		onProgress(current)
	}
	return nil
}

// Sender offers files over a connected session and streams each one the
// receiver asks for.
type Sender struct {
	link     Link
	files    []files.FileInfo
	progress Progress
}

func NewSender(link Link, fileInfos []files.FileInfo, progress Progress) *Sender {
	return &Sender{link: link, files: fileInfos, progress: progressOrNop(progress)}
}

func (s *Sender) Metadata() []FileMetadata {
	meta := make([]FileMetadata, len(s.files))
	for i, f := range s.files {
		meta[i] = FileMetadata{Name: f.Name, Size: uint64(f.Size), Type: f.Type}
	}
	return meta
}

// Run performs the whole exchange and returns transfer stats once the
// receiver confirms.
func (s *Sender) Run(ctx context.Context) (Stats, error) {
	in := newInbox(s.link)
	defer in.close()

	s.progress.SetState("Waiting for receiver...")
	ctrl, err := in.nextControl(ctx, SignalTimeout)
	if err != nil {
		return Stats{}, err
	}
	if ctrl.Type != MessageTypeDeviceInfo {
		return Stats{}, unexpected("handshake", ctrl.Type)
	}
	var device DeviceInfoPayload
	if err := ctrl.DecodePayload(&device); err == nil {
		log.Info().Str("device", device.DeviceName).Str("version", device.DeviceVersion).Msg("receiver connected")
	}

	if err := SendFilesMetadata(s.link, s.Metadata()); err != nil {
		return Stats{}, err
	}
	s.progress.SetState("Waiting for receiver to accept...")

	sender := NewChunkSender(s.link)
	start := time.Now()
	var sent int64

	for {
		// The receiver may take as long as it likes to answer the consent
		// prompt, so only the session ending stops this wait.
		ctrl, err := in.nextControl(ctx, 24*time.Hour)
		if err != nil {
			return Stats{}, err
		}

		switch ctrl.Type {
		case MessageTypeReadyToReceive:
			var req ReadyToReceivePayload
			if err := ctrl.DecodePayload(&req); err != nil {
				return Stats{}, NewError("ready to receive", ErrMetadataFailed)
			}
			n, err := s.sendOne(ctx, sender, req)
			if err != nil {
				return Stats{}, err
			}
			sent += n

		case MessageTypeDeclineReceive:
			return Stats{}, ErrTransferDeclined

		case MessageTypeDownloadingDone:
			sender.WaitForDrain()
			return Stats{Files: len(s.files), Bytes: sent, Duration: time.Since(start)}, nil

		default:
			return Stats{}, unexpected("transfer", ctrl.Type)
		}
	}
}

func (s *Sender) sendOne(ctx context.Context, sender *ChunkSender, req ReadyToReceivePayload) (int64, error) {
	index := -1
	for i, f := range s.files {
		if f.Name == req.FileName {
			index = i
			break
		}
	}
	if index < 0 {
		return 0, fileError("send", req.FileName, req.Offset, ErrFilenameMismatch)
	}
	info := s.files[index]

	file, err := os.Open(info.Path)
	if err != nil {
		s.progress.MarkFailed(index, err.Error())
		return 0, fileError("open", info.Name, 0, err)
	}
	defer file.Close()

	if req.Offset > 0 {
		if _, err := file.Seek(int64(req.Offset), io.SeekStart); err != nil {
			return 0, fileError("seek", info.Name, req.Offset, err)
		}
	}

	s.progress.SetState("Sending " + info.Name)
	err = sender.SendFile(ctx, file, info.Name, req.Offset, uint64(info.Size), func(current uint64) {
		s.progress.UpdateProgress(index, int64(current))
	})
	if err != nil {
		s.progress.MarkFailed(index, err.Error())
		return 0, err
	}
	s.progress.MarkComplete(index)
	return info.Size - int64(req.Offset), nil
}
