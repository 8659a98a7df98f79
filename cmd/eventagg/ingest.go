package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nesen/eventagg/internal/ingestion"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [source...]",
	Short: "Run the calendar source adapters and merge their events",
	Long: `Runs the named source adapters one after another (all configured sources
when none are named) and merges their drafts into the store.`,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		adapters, err := a.adapters(args)
		if err != nil {
			return err
		}

		report, err := a.coordinator(adapters, 0).RunAll(cmd.Context())
		if err != nil {
			return err
		}
		if notifyReport, _ := cmd.Flags().GetBool("notify"); notifyReport {
			a.sendReport(cmd.Context(), report)
		}
		return printReport(cmd.OutOrStdout(), report)
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run one discovery cycle: web search, AI extraction and verification",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		pipeline, err := a.discovery()
		if err != nil {
			return err
		}

		c := a.coordinator([]ingestion.Adapter{pipeline}, discoveryTimeout)
		result, err := c.RunOne(cmd.Context(), pipeline.Name())
		if err != nil {
			return err
		}

		out := struct {
			Status  string `json:"status"`
			New     int    `json:"new"`
			Updated int    `json:"updated"`
			Error   string `json:"error,omitempty"`
			Stats   any    `json:"stats"`
		}{
			Status:  string(result.Status),
			New:     result.New,
			Updated: result.Updated,
			Stats:   pipeline.LastStats(),
		}
		if result.Err != nil {
			out.Error = result.Err.Error()
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape, search, send the digest and sync the mirror in one pass",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		skipSearch, _ := flags.GetBool("skip-search")
		skipDigest, _ := flags.GetBool("skip-digest")
		skipSync, _ := flags.GetBool("skip-sync")
		notifyReport, _ := flags.GetBool("notify-report")

		adapters, timeout, err := a.pipelineAdapters(nil, !skipSearch)
		if err != nil {
			return err
		}
		report, err := a.coordinator(adapters, timeout).RunAll(ctx)
		if err != nil {
			return err
		}
		if err := printReport(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if notifyReport {
			a.sendReport(ctx, report)
		}

		if !skipDigest {
			if err := a.digest(ctx, 0, report.TotalNew, nil); err != nil {
				a.logger.Error("digest failed", "error", err)
			}
		}

		if !skipSync && a.cfg.Sink.Enabled() {
			s, err := a.sink()
			if err != nil {
				return err
			}
			res, err := s.SyncStore(ctx, a.store.Events)
			if err != nil {
				a.logger.Error("sink sync failed", "error", err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "sync: %d created, %d updated, %d failed\n", res.Created, res.Updated, res.Failed)
			}
		}
		return nil
	}),
}

func init() {
	scrapeCmd.Flags().Bool("notify", false, "Send the run report to the configured chat")

	runCmd.Flags().Bool("skip-search", false, "Skip the discovery pipeline")
	runCmd.Flags().Bool("skip-digest", false, "Do not send the digest")
	runCmd.Flags().Bool("skip-sync", false, "Do not mirror the store to NocoDB")
	runCmd.Flags().Bool("notify-report", false, "Send the run report to the configured chat")
}
