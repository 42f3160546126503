package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/amalgammas/link/internal/config"
	"github.com/amalgammas/link/internal/logging"
	"github.com/amalgammas/link/internal/ui"
	"github.com/amalgammas/link/internal/version"
	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "link",
	Short:   "Two-person audio/video call rooms over WebRTC",
	Long:    `link mints short-lived call rooms. Two participants open the same room link, in a browser or with "link call", and talk peer-to-peer once the signaling server has introduced them.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Interactive commands stay quiet unless asked; serve re-initializes
		// once its config is loaded.
		logging.Init(logLevel, "error")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// clientFlags are shared by the commands that talk to a server.
type clientFlags struct {
	opts config.ClientOptions
}

func (f *clientFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.opts.Server, "server", "s", "", "signaling server, e.g. https://calls.example.com (env LINK_SERVER)")
	flags.StringVar(&f.opts.STUNServer, "stun", "", "STUN server URL (env STUN_SERVER)")
	flags.StringVar(&f.opts.TURNServer, "turn", "", "TURN server host (env TURN_SERVER)")
	flags.StringVar(&f.opts.TURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	flags.StringVar(&f.opts.TURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	flags.BoolVar(&f.opts.ForceRelay, "force-relay", false, "only use TURN relay candidates")
}
