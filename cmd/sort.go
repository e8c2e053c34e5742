package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newSortCmd creates the 'sort' subcommand: bulk classification of the local
// finished tree, followed by a mirror when archival is enabled.
func newSortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sort",
		Short: "Classify downloaded files into grade and subject folders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, mirror, err := appInstance.SortLocal(cmd.Context())
			if err != nil {
				return err
			}
			out := map[string]any{"sort": report}
			if mirror != nil {
				out["mirror"] = mirror
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// newResortCmd creates the 'resort' subcommand for the remote review queue.
func newResortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resort",
		Short: "Re-classify files waiting in the remote Review_Needed folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.ResortRemote(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

// newSyncCmd creates the 'sync' subcommand, which only mirrors.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Mirror the local finished tree to the remote archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Mirror(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

// newPurgeCmd creates the 'purge' subcommand, which empties the remote archive.
func newPurgeCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete everything under the remote archive root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("refusing to purge without --yes")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.PurgeRemote(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deletion")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
