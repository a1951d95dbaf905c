package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/piewallah/pw-gateway/internal/config"
)

var (
	gatewayURL string
	verbose    bool

	cli *app
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pwctl",
	Short: "Command-line client for the Pie Wallah gateway.",
	Long: `pwctl logs you in with a one-time password, keeps your session alive and
fetches schedules, topics and other study material through the gateway.

Start with 'pwctl login --phone <number>'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional for the client
		_ = godotenv.Load()
		cfg := config.LoadClientConfig()
		if gatewayURL != "" {
			cfg.GatewayURL = strings.TrimRight(gatewayURL, "/")
		}
		a, err := newApp(cmd.Context(), cfg, config.Load(), cmd.ErrOrStderr(), verbose)
		if err != nil {
			return err
		}
		cli = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cli != nil {
			cli.Close()
			cli = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default $PW_GATEWAY_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log retries and session changes")
}
