package ui

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestFileTableView(t *testing.T) {
	view := NewFileTable([]FileTableItem{
		{Index: 1, Name: "report.pdf", Size: 2048, Type: "application/pdf"},
		{Index: 2, Name: "notes.txt", Size: 12, Type: "text/plain"},
	}).View()

	for _, want := range []string{"report.pdf", "2.00 KB", "notes.txt", "12 B", "Type"} {
		if !strings.Contains(view, want) {
			t.Errorf("file table missing %q:\n%s", want, view)
		}
	}

	hidden := NewFileTable([]FileTableItem{{Index: 1, Name: "a", Size: 1}}).HideType().View()
	if strings.Contains(hidden, "Type") {
		t.Errorf("HideType() still renders the type column:\n%s", hidden)
	}
	if got := NewFileTable(nil).View(); !strings.Contains(got, "No files") {
		t.Errorf("empty table = %q", got)
	}
}

func TestSummaryViews(t *testing.T) {
	transfer := TransferSummaryView(TransferSummary{
		Status:    "Complete",
		Files:     3,
		TotalSize: "1.00 MB",
		Duration:  "2s",
		Speed:     "512.00 KB/s",
	})
	for _, want := range []string{"Complete", "3", "1.00 MB", "512.00 KB/s"} {
		if !strings.Contains(transfer, want) {
			t.Errorf("transfer summary missing %q:\n%s", want, transfer)
		}
	}

	session := SessionSummaryView(SessionSummary{
		Room:      "abc123",
		Role:      "offerer",
		State:     "connected",
		Transport: "http",
		Gathering: "complete",
		Took:      "1s",
	})
	for _, want := range []string{"abc123", "offerer", "connected", "http"} {
		if !strings.Contains(session, want) {
			t.Errorf("session summary missing %q:\n%s", want, session)
		}
	}
}

func TestRoomInfoView(t *testing.T) {
	view := NewRoomInfo("k3x9qa", "warplink receive k3x9qa").View()
	if !strings.Contains(view, "k3x9qa") || !strings.Contains(view, "warplink receive") {
		t.Errorf("room box = %s", view)
	}
}

func TestSimpleSpinnerStopsOnce(t *testing.T) {
	var out strings.Builder
	sp := NewSimpleSpinner("working")
	sp.out = &lockedWriter{w: &out}
	sp.Start()
	sp.UpdateMessage("still working")
	if sp.Message() != "still working" {
		t.Errorf("Message() = %q", sp.Message())
	}
	sp.Stop()
	sp.Stop()
}

func TestStateStyle(t *testing.T) {
	tests := map[string]lipgloss.TerminalColor{
		"connected":    Success,
		"negotiating":  Warning,
		"disconnected": Warning,
		"failed":       Error,
		"idle":         Muted,
		"closed":       Muted,
	}
	for state, want := range tests {
		if got := StateStyle(state).GetForeground(); got != want {
			t.Errorf("StateStyle(%q) foreground = %v, want %v", state, got, want)
		}
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
