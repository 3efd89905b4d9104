package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warplink/internal/files"
	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
)

// pipeLink is an in-memory Link. Messages sent on one end are delivered,
// in order, to the handlers of the other.
type pipeLink struct {
	peer *pipeLink

	mu       sync.Mutex
	handlers map[session.EventKind][]session.Handler
	sent     [][]byte

	in        chan session.InboundMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newPipe() (*pipeLink, *pipeLink) {
	a := &pipeLink{in: make(chan session.InboundMessage, 1024), done: make(chan struct{}), handlers: map[session.EventKind][]session.Handler{}}
	b := &pipeLink{in: make(chan session.InboundMessage, 1024), done: make(chan struct{}), handlers: map[session.EventKind][]session.Handler{}}
	a.peer, b.peer = b, a
	go a.deliver()
	go b.deliver()
	return a, b
}

func (p *pipeLink) deliver() {
	for {
		select {
		case msg := <-p.in:
			p.emit(session.Event{Kind: session.EventMessage, Message: msg})
		case <-p.done:
			return
		}
	}
}

func (p *pipeLink) emit(ev session.Event) {
	p.mu.Lock()
	hs := append([]session.Handler(nil), p.handlers[ev.Kind]...)
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (p *pipeLink) push(msg pion.DataChannelMessage) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg.Data)
	p.mu.Unlock()
	select {
	case p.peer.in <- session.Classify(msg):
		return nil
	case <-p.done:
		return ErrChannelClosed
	}
}

func (p *pipeLink) Send(data []byte) error {
	return p.push(pion.DataChannelMessage{Data: append([]byte(nil), data...)})
}

func (p *pipeLink) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.push(pion.DataChannelMessage{IsString: true, Data: data})
}

func (p *pipeLink) On(kind session.EventKind, fn session.Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = append(p.handlers[kind], fn)
	idx := len(p.handlers[kind]) - 1
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if idx < len(p.handlers[kind]) {
			p.handlers[kind][idx] = func(session.Event) {}
		}
	}
}

func (p *pipeLink) Channel() webrtc.Channel { return nil }

func (p *pipeLink) Done() <-chan struct{} { return p.done }

func (p *pipeLink) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.emit(session.Event{Kind: session.EventClose})
	})
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTransferRoundTrip(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	big := make([]byte, 200*1024+17)
	rand.Read(big)
	paths := []string{
		writeFile(t, src, "big.bin", big),
		writeFile(t, src, "note.txt", []byte("hello warplink\n")),
	}
	infos, err := files.ValidateFiles(paths)
	if err != nil {
		t.Fatal(err)
	}

	sendLink, recvLink := newPipe()
	defer sendLink.Close()
	defer recvLink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var offered []FileMetadata
	type result struct {
		stats Stats
		err   error
	}
	sent := make(chan result, 1)
	go func() {
		stats, err := NewSender(sendLink, infos, nil).Run(ctx)
		sent <- result{stats, err}
	}()

	written, recvStats, err := NewReceiver(recvLink, Options{
		OutputDir: dst,
		Consent: func(meta []FileMetadata) bool {
			offered = meta
			return true
		},
	}).Run(ctx)
	if err != nil {
		t.Fatalf("receiver Run() error = %v", err)
	}
	res := <-sent
	if res.err != nil {
		t.Fatalf("sender Run() error = %v", res.err)
	}

	if len(offered) != 2 || offered[0].Name != "big.bin" || offered[0].Size != uint64(len(big)) || offered[1].Type == "" {
		t.Errorf("offered metadata = %+v", offered)
	}
	if len(written) != 2 {
		t.Fatalf("written = %v", written)
	}
	got, err := os.ReadFile(written[0])
	if err != nil || !bytes.Equal(got, big) {
		t.Errorf("big.bin differs after transfer (%d bytes, err %v)", len(got), err)
	}
	got, _ = os.ReadFile(filepath.Join(dst, "note.txt"))
	if string(got) != "hello warplink\n" {
		t.Errorf("note.txt = %q", got)
	}

	wantBytes := int64(len(big) + len("hello warplink\n"))
	if res.stats.Bytes != wantBytes || recvStats.Bytes != wantBytes || res.stats.Files != 2 {
		t.Errorf("stats sender = %+v receiver = %+v", res.stats, recvStats)
	}

	sendLink.mu.Lock()
	defer sendLink.mu.Unlock()
	for _, frame := range sendLink.sent {
		if len(frame) > 64*1024 {
			t.Fatalf("frame of %d bytes exceeds the channel message limit", len(frame))
		}
	}
}

func TestTransferDeclined(t *testing.T) {
	src := t.TempDir()
	infos, err := files.ValidateFiles([]string{writeFile(t, src, "a.txt", []byte("a"))})
	if err != nil {
		t.Fatal(err)
	}

	sendLink, recvLink := newPipe()
	defer sendLink.Close()
	defer recvLink.Close()
	ctx := context.Background()

	sendErr := make(chan error, 1)
	go func() {
		_, err := NewSender(sendLink, infos, nil).Run(ctx)
		sendErr <- err
	}()

	_, _, err = NewReceiver(recvLink, Options{
		OutputDir: t.TempDir(),
		Consent:   func([]FileMetadata) bool { return false },
	}).Run(ctx)
	if !errors.Is(err, ErrTransferDeclined) {
		t.Errorf("receiver error = %v, want ErrTransferDeclined", err)
	}
	if err := <-sendErr; !errors.Is(err, ErrTransferDeclined) {
		t.Errorf("sender error = %v, want ErrTransferDeclined", err)
	}
}

func TestSenderStopsWhenSessionCloses(t *testing.T) {
	sendLink, recvLink := newPipe()
	defer recvLink.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := NewSender(sendLink, nil, nil).Run(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sendLink.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPeerDisconnected) {
			t.Errorf("Run() error = %v, want ErrPeerDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sender kept waiting after the session closed")
	}
}

func TestChunkSenderEmptyFile(t *testing.T) {
	sendLink, recvLink := newPipe()
	defer sendLink.Close()
	defer recvLink.Close()

	s := NewChunkSender(sendLink)
	if err := s.SendFile(context.Background(), bytes.NewReader(nil), "empty", 0, 0, func(uint64) {}); err != nil {
		t.Fatal(err)
	}

	sendLink.mu.Lock()
	frames := sendLink.sent
	sendLink.mu.Unlock()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	chunk, err := ParseChunk(frames[0])
	if err != nil || !chunk.Final || len(chunk.Bytes) != 0 || chunk.FileName != "empty" {
		t.Errorf("chunk = %+v, %v", chunk, err)
	}
}

func TestChunkSenderShortFile(t *testing.T) {
	sendLink, recvLink := newPipe()
	defer sendLink.Close()
	defer recvLink.Close()

	s := NewChunkSender(sendLink)
	err := s.SendFile(context.Background(), bytes.NewReader([]byte("abc")), "short", 0, 10, func(uint64) {})
	if !errors.Is(err, ErrInvalidFile) {
		t.Errorf("SendFile() error = %v, want ErrInvalidFile", err)
	}
	var te *Error
	if !errors.As(err, &te) || te.File != "short" || te.Op != "read" {
		t.Errorf("SendFile() error = %#v, want a read error on short", err)
	}
}

func TestErrorReportsWhereTransferStopped(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{fileError("write", "a.bin", 4096, os.ErrPermission), "write a.bin at byte 4096: permission denied"},
		{fileError("open", "a.bin", 0, os.ErrNotExist), "open a.bin: file does not exist"},
		{unexpected("metadata", "ready_to_receive"), "metadata: unexpected message (got ready_to_receive)"},
		{WrapError("wait", ErrPeerSilent, "nothing for 5s"), "wait: peer stopped responding: nothing for 5s"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewFileWriterStaysInOutputDir(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(FileMetadata{Name: "../../escape.txt", Size: 1}, 0, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if filepath.Dir(w.Path()) != dir {
		t.Errorf("Path() = %s, want a file inside %s", w.Path(), dir)
	}

	if _, err := NewFileWriter(FileMetadata{Name: ".."}, 0, dir); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("NewFileWriter(..) error = %v", err)
	}
}

func TestParseControl(t *testing.T) {
	msg := session.Classify(pion.DataChannelMessage{IsString: true, Data: []byte(`{"type":"ready_to_receive","payload":{"fileName":"a","offset":5}}`)})
	ctrl, err := ParseControl(msg)
	if err != nil {
		t.Fatal(err)
	}
	var req ReadyToReceivePayload
	if err := ctrl.DecodePayload(&req); err != nil || req.FileName != "a" || req.Offset != 5 {
		t.Errorf("payload = %+v, %v", req, err)
	}

	if _, err := ParseControl(session.Classify(pion.DataChannelMessage{IsString: true, Data: []byte(`{}`)})); !errors.Is(err, ErrUnexpectedMessage) {
		t.Errorf("ParseControl({}) error = %v", err)
	}
}
