package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/warplink/internal/config"
	"github.com/BioHazard786/warplink/internal/transfer"
	"github.com/BioHazard786/warplink/internal/ui"
	"github.com/BioHazard786/warplink/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagStats  bool

	// appConfig is loaded before any subcommand runs.
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "warplink",
	Short: "Peer-to-peer sessions and file transfer over WebRTC, negotiated through a relay",
	Long: `warplink connects two devices directly over WebRTC. The two sides meet in a
room on a signaling relay, exchange an offer and an answer, and then talk over
a single data channel without the relay in the path.

Run "warplink relay" to host your own relay.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{ConfigFile: flagConfig, Flags: cmd.Flags()})
		if err != nil {
			return transfer.NewError("load config", err)
		}
		appConfig = cfg
		return nil
	},
}

// Execute runs the root command. Interrupts cancel the command's context
// so sessions close cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		stop()
		os.Exit(1)
	}
}

func printError(err error) {
	var te *transfer.Error
	if errors.As(err, &te) {
		te.Print()
		return
	}
	ui.PrintError(err.Error())
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/warplink/config.yaml)")
	pf.String("relay", "", "Signaling relay URL (http, https, ws or wss)")
	pf.String("transport", "", "Signaling transport: http or ws")
	pf.StringP("stun", "s", "", "Comma-separated STUN servers")
	pf.StringP("turn", "t", "", "TURN server")
	pf.String("turn-user", "", "TURN username")
	pf.String("turn-pass", "", "TURN password")
	pf.Bool("force-relay", false, "Only use TURN relay candidates")
	pf.Bool("loopback", false, "Gather loopback candidates (same-host testing)")
	pf.Duration("gather-timeout", 0, "Candidate gathering budget")
	pf.Duration("wait-timeout", 0, "How long to wait for the other peer")
	pf.Duration("init-timeout", 0, "Overall negotiation budget")
	pf.Int("retries", 0, "Session attempts before giving up")
	pf.BoolVar(&flagStats, "stats", false, "Show negotiation details once connected")
	pf.MarkHidden("loopback")
}
