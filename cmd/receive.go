package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/signaling"
	"github.com/BioHazard786/warplink/internal/transfer"
	"github.com/BioHazard786/warplink/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagOutputDir string
	flagYes       bool
)

var receiveCmd = &cobra.Command{
	Use:     "receive <room|url>",
	Aliases: []string{"r"},
	Short:   "Receive files from a sender",
	Long: `Join the sender's room and receive the files it offers.

Examples:
  warplink receive kitten-waffle-stardust-happy
  warplink receive https://relay.example.com/r/kitten-waffle-stardust-happy
  warplink receive kitten-waffle-stardust-happy --dir ~/Downloads --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return receiveFiles(cmd.Context(), roomID)
	},
}

func receiveFiles(ctx context.Context, roomID string) error {
	cfg := *appConfig
	applyRelayHeuristic(&cfg)

	fmt.Println()
	s, err := connect(ctx, &cfg, retryJoin, func(ctx context.Context, s *session.Session) error {
		sp := ui.NewConnectionSpinner("Joining room " + roomID + "...")
		sp.Start()
		followState(s, sp)

		err := s.JoinRoom(ctx, roomID)
		settle(sp, err, "Connected to sender")
		return err
	})
	if err != nil {
		return transfer.NewError("connect", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := &acceptedView{cancel: cancel}
	consent := func(meta []transfer.FileMetadata) bool {
		fmt.Println()
		if flagYes {
			ui.RenderFileTable(transfer.BuildFileTable(meta))
		} else if !transfer.PromptConsent(meta) {
			return false
		}
		view.start(meta)
		return true
	}

	paths, stats, err := transfer.NewReceiver(s, transfer.Options{
		OutputDir: flagOutputDir,
		Consent:   consent,
		Progress:  view,
	}).Run(ctx)
	view.stop()

	if errors.Is(err, transfer.ErrTransferDeclined) {
		ui.PrintWarning("Transfer declined")
		return nil
	}
	if err != nil {
		return transfer.NewError("receive files", err)
	}

	transfer.RenderSummary(stats)
	for _, p := range paths {
		ui.PrintSuccessf("Saved %s", p)
	}
	return nil
}

// acceptedView is the receiver's progress sink. The file list is only
// known once the offer arrives, so the live view starts after consent and
// updates before that are dropped.
type acceptedView struct {
	mu     sync.Mutex
	view   *ui.TransferUI
	cancel context.CancelFunc
}

func (a *acceptedView) start(meta []transfer.FileMetadata) {
	names := make([]string, len(meta))
	sizes := make([]int64, len(meta))
	for i, m := range meta {
		names[i], sizes[i] = m.Name, int64(m.Size)
	}
	v := ui.NewTransferUI(ui.ModeReceive, names, sizes)
	v.SetCancel(a.cancel)
	v.Start()

	a.mu.Lock()
	a.view = v
	a.mu.Unlock()
}

func (a *acceptedView) current() *ui.TransferUI {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

func (a *acceptedView) stop() {
	if v := a.current(); v != nil {
		v.Stop()
	}
}

func (a *acceptedView) UpdateProgress(fileID int, current int64) {
	if v := a.current(); v != nil {
		v.UpdateProgress(fileID, current)
	}
}

func (a *acceptedView) MarkComplete(fileID int) {
	if v := a.current(); v != nil {
		v.MarkComplete(fileID)
	}
}

func (a *acceptedView) MarkFailed(fileID int, errMsg string) {
	if v := a.current(); v != nil {
		v.MarkFailed(fileID, errMsg)
	}
}

func (a *acceptedView) SetState(state string) {
	if v := a.current(); v != nil {
		v.SetState(state)
	}
}

// parseRoomInput accepts a bare token or a share link ending in /r/<token>.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	roomID := input
	if strings.Contains(input, "://") {
		var err error
		if roomID, err = extractRoomIDFromURL(input); err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room ID: %s", roomID)
	}

	if !signaling.ValidRoomToken(roomID) {
		return "", transfer.WrapError("parse room", session.ErrInvalidRoom, roomID)
	}
	return roomID, nil
}

func extractRoomIDFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", transfer.NewError("parse URL", err)
	}

	parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	if id := u.Query().Get("room"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("could not extract room ID from URL: %s", raw)
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&flagOutputDir, "dir", "d", "", "Directory to save received files")
	receiveCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "Accept the offered files without asking")
}
