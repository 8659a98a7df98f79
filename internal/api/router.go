// Package api serves the canonical store read-only over JSON and RSS, plus a
// token-protected admin surface for triggering runs and soft-deleting events.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nesen/eventagg/internal/auth"
	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/metrics"
	"github.com/nesen/eventagg/internal/models"
)

// EventStore is the slice of the canonical store the API reads and the admin
// soft-delete writes.
type EventStore interface {
	Query(ctx context.Context, query models.EventQuery) ([]models.Event, error)
	Count(ctx context.Context) (int, error)
	Deactivate(ctx context.Context, id string) error
}

// RunLister reads the ingestion run audit log.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]models.IngestionRun, error)
}

// Runner triggers a full ingestion run and reports per-source health.
type Runner interface {
	RunAll(ctx context.Context) (ingestion.Report, error)
	Statuses() []ingestion.AdapterStatus
	IsRunning() bool
}

// Config holds the router's collaborators. Runs, Runner, Metrics and Health
// are optional.
type Config struct {
	Events  EventStore
	Runs    RunLister
	Runner  Runner
	Metrics *metrics.Collector
	Health  func(ctx context.Context) error
	Auth    auth.Config
	Clock   clock.Clock
	Logger  *slog.Logger

	FeedTitle string
	SiteURL   string

	// OnReport receives the report of every admin-triggered run.
	OnReport func(ingestion.Report)
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.FeedTitle == "" {
		cfg.FeedTitle = "Boston Tech & Startup Events"
	}

	events := &eventHandler{store: cfg.Events, runs: cfg.Runs, clock: cfg.Clock, logger: cfg.Logger}
	feed := &rssHandler{store: cfg.Events, clock: cfg.Clock, logger: cfg.Logger, title: cfg.FeedTitle, siteURL: cfg.SiteURL}
	admin := newAdminHandler(cfg.Events, cfg.Runner, cfg.OnReport, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.InstrumentHandler)
	}
	r.Use(cors)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/healthz", healthHandler(cfg.Events, cfg.Health, cfg.Logger))
	r.Get("/rss.xml", feed.serve)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", events.list)
		r.Get("/runs", events.listRuns)
		r.Get("/sources", admin.sources)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth))
			r.Post("/runs", admin.triggerRun)
			r.Delete("/events/{id}", admin.deactivate)
		})
	})

	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func healthHandler(store EventStore, check func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		count, err := store.Count(r.Context())
		if err != nil {
			logger.Error("failed to count events", "error", err)
			writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]any{"status": "ok", "events": count})
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}
