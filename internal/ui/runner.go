package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/warplink/internal/utils"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

// TransferMode says which way files flow.
type TransferMode int

const (
	ModeSend TransferMode = iota
	ModeReceive
)

type tickMsg time.Time

// TransferUI drives a bubbletea progress view for a running transfer.
// Updates are dropped rather than blocking the transfer when the view
// falls behind.
type TransferUI struct {
	program    *tea.Program
	model      *liveTransferModel
	updateChan chan progressUpdate
	cancel     func()
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

type progressUpdate struct {
	fileID    int
	current   int64
	completed bool
	failed    bool
	errMsg    string
}

// liveTransferModel is an internal model for live transfer updates
type liveTransferModel struct {
	mode       TransferMode
	state      string
	files      []*liveFileProgress
	progBars   []progress.Model
	spinner    spinner.Model
	startTime  time.Time
	updateChan chan progressUpdate
	mu         sync.RWMutex
	quitting   bool
}

type liveFileProgress struct {
	name      string
	size      int64
	current   int64
	startTime time.Time
	complete  bool
	failed    bool
	errMsg    string
}

// NewTransferUI creates a new transfer UI
func NewTransferUI(mode TransferMode, fileNames []string, fileSizes []int64) *TransferUI {
	updateChan := make(chan progressUpdate, 100)

	files := make([]*liveFileProgress, len(fileNames))
	progBars := make([]progress.Model, len(fileNames))

	for i := range fileNames {
		files[i] = &liveFileProgress{
			name: fileNames[i],
			size: fileSizes[i],
		}
		progBars[i] = progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(25),
			progress.WithoutPercentage(),
		)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	model := &liveTransferModel{
		mode:       mode,
		state:      "Initializing...",
		files:      files,
		progBars:   progBars,
		spinner:    s,
		updateChan: updateChan,
		startTime:  time.Now(),
	}

	return &TransferUI{
		model:      model,
		updateChan: updateChan,
		program:    tea.NewProgram(model),
	}
}

// Start starts the UI in a goroutine
func (ui *TransferUI) Start() {
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		// Inline mode keeps earlier output on screen.
		if _, err := ui.program.Run(); err != nil {
			log.Debug().Err(err).Msg("progress view stopped")
		}
		if ui.model.cancelled() && ui.cancel != nil {
			ui.cancel()
		}
	}()
}

// SetCancel registers cancel to run when the user quits the view. Call it
// before Start.
func (ui *TransferUI) SetCancel(cancel func()) {
	ui.cancel = cancel
}

// UpdateProgress updates the progress for a specific file
func (ui *TransferUI) UpdateProgress(fileID int, current int64) {
	select {
	case ui.updateChan <- progressUpdate{fileID: fileID, current: current}:
	default:
	}
}

// MarkComplete marks a file as complete
func (ui *TransferUI) MarkComplete(fileID int) {
	select {
	case ui.updateChan <- progressUpdate{fileID: fileID, completed: true}:
	default:
	}
}

// MarkFailed marks a file as failed
func (ui *TransferUI) MarkFailed(fileID int, errMsg string) {
	select {
	case ui.updateChan <- progressUpdate{fileID: fileID, failed: true, errMsg: errMsg}:
	default:
	}
}

// SetState sets the status line.
func (ui *TransferUI) SetState(state string) {
	ui.model.mu.Lock()
	ui.model.state = state
	ui.model.mu.Unlock()
}

// Stop quits the program and waits for it to restore the terminal.
func (ui *TransferUI) Stop() {
	ui.stopOnce.Do(func() {
		ui.program.Quit()
		ui.wg.Wait()
	})
}

// Model methods
func (m *liveTransferModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForUpdates(),
		tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		}),
	)
}

func (m *liveTransferModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updateChan
	}
}

func (m *liveTransferModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.mu.Lock()
			m.quitting = true
			m.mu.Unlock()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		for i := range m.progBars {
			m.progBars[i].Width = min(25, msg.Width-60)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if !m.quitting && !m.allComplete() {
			cmds = append(cmds, tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
				return tickMsg(t)
			}))
		}

	case progressUpdate:
		m.mu.Lock()
		if msg.fileID >= 0 && msg.fileID < len(m.files) {
			file := m.files[msg.fileID]
			if msg.completed {
				file.complete = true
				file.current = file.size
			} else if msg.failed {
				file.failed = true
				file.errMsg = msg.errMsg
			} else {
				file.current = msg.current
				if file.startTime.IsZero() {
					file.startTime = time.Now()
				}
			}
		}
		m.mu.Unlock()
		cmds = append(cmds, m.listenForUpdates())

	case progress.FrameMsg:
		for i := range m.progBars {
			model, cmd := m.progBars[i].Update(msg)
			m.progBars[i] = model.(progress.Model)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *liveTransferModel) cancelled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quitting
}

func (m *liveTransferModel) allComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.files {
		if !f.complete && !f.failed {
			return false
		}
	}
	return true
}

func (m *liveTransferModel) View() string {
	if m.quitting {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	// Header
	modeIcon := IconSend
	modeText := "Sending"
	if m.mode == ModeReceive {
		modeIcon = IconReceive
		modeText = "Receiving"
	}

	b.WriteString(fmt.Sprintf("\n%s %s Files\n\n", modeIcon, modeText))

	// State
	b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), m.state))

	// Calculate totals
	var totalSize, totalSent int64
	for _, f := range m.files {
		totalSize += f.size
		totalSent += f.current
	}

	// Overall progress
	var overallPercent float64
	if totalSize > 0 {
		overallPercent = float64(totalSent) / float64(totalSize) * 100
	}

	elapsed := time.Since(m.startTime).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(totalSent) / elapsed
	}

	b.WriteString(fmt.Sprintf("Overall: %s (%s/%s) %s\n\n",
		BoldStyle.Render(fmt.Sprintf("%.1f%%", overallPercent)),
		utils.FormatSize(totalSent),
		utils.FormatSize(totalSize),
		MutedStyle.Render(utils.FormatSpeed(speed)),
	))

	// Per-file progress
	for i, f := range m.files {
		var icon string
		var nameStyle lipgloss.Style

		if f.failed {
			icon = IconError
			nameStyle = ErrorStyle
		} else if f.complete {
			icon = IconSuccess
			nameStyle = SuccessStyle
		} else if f.current > 0 {
			icon = m.spinner.View()
			nameStyle = lipgloss.NewStyle()
		} else {
			icon = "○"
			nameStyle = MutedStyle
		}

		name := utils.TruncateString(f.name, 22)
		b.WriteString(fmt.Sprintf("  %s %s ", icon, nameStyle.Width(24).Render(name)))

		// Progress bar
		if f.size > 0 {
			percent := float64(f.current) / float64(f.size)
			b.WriteString(m.progBars[i].ViewAs(percent))
		}

		// Percentage
		if f.size > 0 {
			percent := float64(f.current) / float64(f.size) * 100
			b.WriteString(fmt.Sprintf(" %5.1f%%", percent))
		}

		// Speed and ETA for active files
		if !f.complete && !f.failed && f.current > 0 && !f.startTime.IsZero() {
			fileElapsed := time.Since(f.startTime).Seconds()
			if fileElapsed > 0 {
				fileSpeed := float64(f.current) / fileElapsed
				b.WriteString(MutedStyle.Render(" " + utils.FormatSpeed(fileSpeed)))
				if remaining := f.size - f.current; remaining > 0 && fileSpeed > 0 {
					eta := time.Duration(float64(remaining) / fileSpeed * float64(time.Second))
					b.WriteString(MutedStyle.Render(" ETA: " + utils.FormatTimeDuration(eta)))
				}
			}
		}

		b.WriteString("\n")
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to cancel"))

	return b.String()
}
