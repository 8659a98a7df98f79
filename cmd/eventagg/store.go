package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the event store schema",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		// Opening the store applies pending migrations.
		if err := a.store.HealthCheck(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", a.store.Driver)
		return nil
	}),
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the known calendar sources",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		enabled := make(map[string]bool, len(a.cfg.Scrape.Sources))
		for _, s := range a.cfg.Scrape.Sources {
			enabled[strings.ToLower(s)] = true
		}
		for _, name := range a.registry().Names() {
			mark := " "
			if len(enabled) == 0 || enabled[strings.ToLower(name)] {
				mark = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, name)
		}
		return nil
	}),
}
