package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Select upcoming events and send the digest",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		days, _ := cmd.Flags().GetInt("days")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if dryRun {
			return a.digest(cmd.Context(), days, 0, cmd.OutOrStdout())
		}
		if err := a.digest(cmd.Context(), days, 0, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "digest sent")
		return nil
	}),
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror active upcoming events to NocoDB",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		s, err := a.sink()
		if err != nil {
			return err
		}
		res, err := s.SyncStore(cmd.Context(), a.store.Events)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sync: %d created, %d updated, %d failed\n", res.Created, res.Updated, res.Failed)
		return nil
	}),
}

func init() {
	digestCmd.Flags().Int("days", 0, "Look-ahead window in days (0 uses DIGEST_WINDOW_DAYS)")
	digestCmd.Flags().Bool("dry-run", false, "Print the digest instead of sending it")
}
