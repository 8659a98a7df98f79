package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nesen/eventagg/internal/api"
	"github.com/nesen/eventagg/internal/auth"
	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API, RSS feed and metrics",
	Long: `Serves the event API until interrupted. With --schedule the full ingestion
pipeline also runs immediately and then every SCRAPE_INTERVAL_MINUTES.`,
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		schedule, _ := cmd.Flags().GetBool("schedule")
		skipSearch, _ := cmd.Flags().GetBool("skip-search")

		adapters, timeout, err := a.pipelineAdapters(nil, !skipSearch)
		if err != nil {
			return err
		}
		coordinator := a.coordinator(adapters, timeout)

		router := api.NewRouter(api.Config{
			Events:    a.store.Events,
			Runs:      a.store.Runs,
			Runner:    coordinator,
			Metrics:   a.metrics,
			Health:    a.store.HealthCheck,
			Auth:      auth.Config{JWTSecret: a.cfg.Auth.JWTSecret},
			Clock:     a.clock,
			Logger:    a.logger,
			FeedTitle: digestTitle,
			SiteURL:   a.cfg.Notify.SiteURL,
			OnReport:  func(r ingestion.Report) { a.sendReport(context.Background(), r) },
		})
		if a.cfg.Auth.JWTSecret == "" {
			a.logger.Warn("ADMIN_JWT_SECRET not set, admin API disabled")
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			return server.New(a.cfg.Server, a.logger, router).Run(ctx)
		})
		if schedule {
			g.Go(func() error {
				err := coordinator.Start(ctx, func(r ingestion.Report) { a.sendReport(ctx, r) })
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		return g.Wait()
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token signed with ADMIN_JWT_SECRET",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		token, err := auth.GenerateToken(subject, a.cfg.Auth.JWTSecret, a.clock.Now(), ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}),
}

func init() {
	serveCmd.Flags().Bool("schedule", false, "Run the ingestion pipeline on SCRAPE_INTERVAL_MINUTES")
	serveCmd.Flags().Bool("skip-search", false, "Leave the discovery pipeline out of scheduled and admin runs")

	tokenCmd.Flags().String("subject", "admin", "Token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
