package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/nesen/eventagg/internal/ingestion"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eventagg",
	Short: "Boston tech and startup event aggregator",
	Long: `eventagg collects event listings from calendar sites and web search,
merges them into one deduplicated store, and delivers curated digests.

Configuration is read from the environment; EVENTAGG_CONFIG_FILE names an
optional YAML file with list-valued settings.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(
		scrapeCmd,
		searchCmd,
		runCmd,
		digestCmd,
		syncCmd,
		migrateCmd,
		serveCmd,
		tokenCmd,
		sourcesCmd,
	)
}

// errorColumnWidth bounds the error column of the run table, in display cells.
const errorColumnWidth = 60

// printReport writes one line per adapter result.
func printReport(out io.Writer, report ingestion.Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tFOUND\tNEW\tUPDATED\tERROR")
	for _, r := range report.Results() {
		errMsg := ""
		if r.Err != nil {
			errMsg = runewidth.Truncate(r.Err.Error(), errorColumnWidth, "...")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", r.Source, r.Status, r.Found, r.New, r.Updated, errMsg)
	}
	fmt.Fprintf(w, "TOTAL NEW\t\t\t%d\t\t\n", report.TotalNew)
	return w.Flush()
}
