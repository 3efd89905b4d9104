package cmd

import (
	"context"
	"fmt"

	"github.com/BioHazard786/warplink/internal/files"
	"github.com/BioHazard786/warplink/internal/session"
	"github.com/BioHazard786/warplink/internal/transfer"
	"github.com/BioHazard786/warplink/internal/ui"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:     "send <file>...",
	Aliases: []string{"s"},
	Short:   "Send files to a receiver",
	Long: `Create a room, wait for a receiver to join it, and send files directly.

Examples:
  warplink send report.pdf notes.txt
  warplink send --relay https://relay.example.com file.bin
  warplink send --force-relay --turn turn.example.com:3478 file.bin`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFiles(cmd.Context(), args)
	},
}

func sendFiles(ctx context.Context, paths []string) error {
	stop := ui.RunSpinner("Validating files...")
	infos, err := files.ValidateFiles(paths)
	stop()
	if err != nil {
		return err
	}

	fmt.Println()
	ui.RenderFileTable(fileTableItems(infos))

	cfg := *appConfig
	applyRelayHeuristic(&cfg)

	// Every attempt mints a new token, so a retry prints a new room box.
	s, err := connect(ctx, &cfg, retrySend, func(ctx context.Context, s *session.Session) error {
		sp := ui.NewWaitingSpinner("Waiting for receiver to join...")
		s.On(session.EventRoom, func(ev session.Event) {
			fmt.Println()
			fmt.Println(ui.NewRoomInfo(ev.RoomID, "warplink receive "+ev.RoomID).View())
			fmt.Println()
			sp.Start()
		})
		followState(s, sp)

		err := s.CreateRoom(ctx)
		settle(sp, err, "Receiver connected")
		return err
	})
	if err != nil {
		return transfer.NewError("connect", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	names := make([]string, len(infos))
	sizes := make([]int64, len(infos))
	for i, f := range infos {
		names[i], sizes[i] = f.Name, f.Size
	}
	view := ui.NewTransferUI(ui.ModeSend, names, sizes)
	view.SetCancel(cancel)
	view.Start()

	stats, err := transfer.NewSender(s, infos, view).Run(ctx)
	view.Stop()
	if err != nil {
		return transfer.NewError("send files", err)
	}

	transfer.RenderSummary(stats)
	return nil
}

func fileTableItems(infos []files.FileInfo) []ui.FileTableItem {
	items := make([]ui.FileTableItem, len(infos))
	for i, f := range infos {
		items[i] = ui.FileTableItem{Index: i + 1, Name: f.Name, Size: f.Size, Type: f.Type}
	}
	return items
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
