package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/utils"
)

type FileWriter struct {
	File          *os.File
	Metadata      FileMetadata
	ReceivedBytes uint64
	Index         int
}

func NewFileWriter(meta FileMetadata, index int, outputDir string) (*FileWriter, error) {
	name := filepath.Base(filepath.Clean(meta.Name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return nil, fileError("create file", meta.Name, 0, ErrInvalidFile)
	}

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fileError("create directory", outputDir, 0, err)
		}
		name = filepath.Join(outputDir, name)
	}
	name = utils.GetUniqueFilename(name)

	file, err := os.Create(name)
	if err != nil {
		return nil, fileError("create file", meta.Name, 0, err)
	}

	return &FileWriter{
		File:     file,
		Metadata: meta,
		Index:    index,
	}, nil
}

func (w *FileWriter) Write(data []byte) (int, error) {
	n, err := w.File.Write(data)
	if err != nil {
		return n, fileError("write", w.Metadata.Name, w.ReceivedBytes, err)
	}
	w.ReceivedBytes += uint64(n)
	return n, nil
}

func (w *FileWriter) WriteAt(data []byte, offset uint64) (int, error) {
	if offset != w.ReceivedBytes {
		if _, err := w.File.Seek(int64(offset), io.SeekStart); err != nil {
			return 0, fileError("seek", w.Metadata.Name, offset, err)
		}
		w.ReceivedBytes = offset
	}
	return w.Write(data)
}

func (w *FileWriter) IsComplete() bool {
	return w.ReceivedBytes >= w.Metadata.Size
}

func (w *FileWriter) Path() string {
	return w.File.Name()
}

func (w *FileWriter) Close() error {
	return w.File.Close()
}

// Receiver accepts the files a sender offers over a connected session.
type Receiver struct {
	link     Link
	opts     Options
	progress Progress
	files    []FileMetadata
}

func NewReceiver(link Link, opts Options) *Receiver {
	return &Receiver{link: link, opts: opts, progress: progressOrNop(opts.Progress)}
}

// Files returns the offered files once metadata has arrived.
func (r *Receiver) Files() []FileMetadata {
	return r.files
}

// Run announces this device, waits for the offer, and writes every
// accepted file. It returns the paths written.
func (r *Receiver) Run(ctx context.Context) ([]string, Stats, error) {
	in := newInbox(r.link)
	defer in.close()

	if err := SendDeviceInfo(r.link); err != nil {
		return nil, Stats{}, err
	}

	r.progress.SetState("Waiting for file list...")
	ctrl, err := in.nextControl(ctx, SignalTimeout)
	if err != nil {
		return nil, Stats{}, err
	}
	if ctrl.Type != MessageTypeFilesMetadata {
		return nil, Stats{}, unexpected("metadata", ctrl.Type)
	}
	if err := ctrl.DecodePayload(&r.files); err != nil {
		return nil, Stats{}, WrapError("metadata", ErrMetadataFailed, err.Error())
	}

	if r.opts.Consent != nil && !r.opts.Consent(r.files) {
		SendControl(r.link, MessageTypeDeclineReceive, nil)
		return nil, Stats{}, ErrTransferDeclined
	}

	start := time.Now()
	var total int64
	paths := make([]string, 0, len(r.files))
	for i, meta := range r.files {
		path, err := r.receiveOne(ctx, in, i, meta)
		if err != nil {
			r.progress.MarkFailed(i, err.Error())
			return paths, Stats{}, err
		}
		r.progress.MarkComplete(i)
		paths = append(paths, path)
		total += int64(meta.Size)
	}

	if err := SendControl(r.link, MessageTypeDownloadingDone, nil); err != nil {
		return paths, Stats{}, err
	}
	return paths, Stats{Files: len(paths), Bytes: total, Duration: time.Since(start)}, nil
}

func (r *Receiver) receiveOne(ctx context.Context, in *inbox, index int, meta FileMetadata) (string, error) {
	w, err := NewFileWriter(meta, index, r.opts.OutputDir)
	if err != nil {
		return "", err
	}
	defer w.Close()

	if err := SendReadyToReceive(r.link, meta.Name, 0); err != nil {
		return "", err
	}
	r.progress.SetState("Receiving " + meta.Name)

	for {
		msg, err := in.next(ctx, SendTimeout)
		if err != nil {
			return "", err
		}
		if msg.Kind != session.BinaryChunk {
			return "", unexpected("receive", msg.Kind.String())
		}

		chunk, err := ParseChunk(msg.Data)
		if err != nil {
			return "", err
		}
		if chunk.FileName != meta.Name {
			return "", fileError("receive", chunk.FileName, chunk.Offset, ErrFilenameMismatch)
		}
		if len(chunk.Bytes) > 0 {
			if _, err := w.WriteAt(chunk.Bytes, chunk.Offset); err != nil {
				return "", err
			}
		}
		r.progress.UpdateProgress(index, int64(w.ReceivedBytes))

		if chunk.Final {
			if !w.IsComplete() {
				return "", &Error{Op: "receive", File: meta.Name, Offset: w.ReceivedBytes, Err: ErrInvalidFile, Details: "stream ended early"}
			}
			return w.Path(), nil
		}
	}
}
