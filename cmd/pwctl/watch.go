package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// watchCmd keeps the session checked in the foreground until interrupted
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Probe connectivity and check the session until interrupted",
	Long: `Probes the gateway, and checks the stored session every liveness interval and
whenever the network comes back. An expired session is logged out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		online := cli.net.Subscribe()
		go cli.net.Run(ctx, cli.cfg.LivenessEvery/10)
		fmt.Fprintf(cmd.OutOrStdout(), "watching session, state %s\n", cli.auth.State(ctx))
		cli.auth.RunLiveness(ctx, cli.cfg.LivenessEvery, online)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
