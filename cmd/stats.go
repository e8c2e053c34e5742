package cmd

import (
	"github.com/spf13/cobra"
)

// newStatsCmd creates the 'stats' subcommand.
func newStatsCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the persisted run counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			agg := appInstance.Stats()
			if reset {
				agg.Reset()
			}
			return printJSON(cmd.OutOrStdout(), agg.Snapshot())
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "reset all counters before printing")
	return cmd
}
