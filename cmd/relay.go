package cmd

import (
	"context"

	"github.com/BioHazard786/warplink/internal/config"
	"github.com/BioHazard786/warplink/internal/relay"
	"github.com/BioHazard786/warplink/internal/ui"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the rendezvous relay peers negotiate through. Rooms live in memory and
expire after --room-ttl; nothing but offers, answers and probes passes through.

Examples:
  warplink relay --listen :8080
  warplink relay --room-ttl 5m --mode debug`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context(), appConfig.Relay)
	},
}

func runRelay(ctx context.Context, rc config.RelayServer) error {
	hub := relay.NewHub(rc.RoomTTL, rc.MaxWait)
	ui.PrintInfof("Relay listening on %s (rooms expire after %s)", rc.Listen, rc.RoomTTL)
	return relay.NewServer(hub, rc.Mode).ListenAndServe(ctx, rc.Listen)
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().String("listen", "", "Address to listen on")
	relayCmd.Flags().Duration("room-ttl", 0, "How long an idle room lives")
	relayCmd.Flags().String("mode", "", "gin mode: debug, release or test")
}
