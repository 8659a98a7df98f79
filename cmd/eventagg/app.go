package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nesen/eventagg/internal/ai"
	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/config"
	"github.com/nesen/eventagg/internal/curation"
	"github.com/nesen/eventagg/internal/database"
	"github.com/nesen/eventagg/internal/discovery"
	"github.com/nesen/eventagg/internal/httpclient"
	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/logging"
	"github.com/nesen/eventagg/internal/metrics"
	"github.com/nesen/eventagg/internal/normalize"
	"github.com/nesen/eventagg/internal/notify"
	"github.com/nesen/eventagg/internal/retry"
	"github.com/nesen/eventagg/internal/search"
	"github.com/nesen/eventagg/internal/sink"
	"github.com/nesen/eventagg/internal/sources"
)

const (
	digestTitle      = "Boston Tech & Startup Events"
	discoveryTimeout = 30 * time.Minute
)

// app holds the components shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	clock   clock.Clock
	store   *database.Store
	client  *http.Client
	browser *sources.BrowserFetcher // Nil when headless rendering is disabled
	metrics *metrics.Collector
	chain   *ai.Chain
}

// withApp loads configuration, opens the store and hands the assembled app to
// run. Logs go to stderr.
func withApp(run func(cmd *cobra.Command, args []string, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err := logging.NewWriter(cfg.Logging, cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = logger.With("command", cmd.Name())

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("failed to start", "error", err)
			return err
		}
		defer a.Close()

		return run(cmd, args, a)
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.Driver = cfg.Database.Driver
	dbCfg.URL = cfg.Database.URL
	dbCfg.MigrationsDir = cfg.Database.MigrationsDir

	store, err := database.Open(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		clock:   clock.System{},
		store:   store,
		client:  httpclient.New(cfg.Scrape.FetchTimeout, cfg.Scrape.UserAgent),
		metrics: collector,
	}
	if cfg.Scrape.HeadlessEnabled {
		a.browser = sources.NewBrowserFetcher(sources.BrowserConfig{
			Timeout:   cfg.Scrape.RenderTimeout,
			UserAgent: cfg.Scrape.UserAgent,
			ExecPath:  cfg.Scrape.BrowserPath,
			Headless:  true,
		})
	}
	return a, nil
}

// Close releases the browser and the store.
func (a *app) Close() {
	if a.browser != nil {
		a.browser.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

func (a *app) dates() *normalize.DateParser {
	return normalize.NewDateParser(a.clock, a.cfg.Normalize.RolloverGrace, a.logger)
}

// aiChain builds the backend chain once. Backends without a key are skipped.
func (a *app) aiChain() *ai.Chain {
	if a.chain != nil {
		return a.chain
	}
	var backends []ai.Backend
	for _, b := range a.cfg.AI.Backends {
		if !b.Enabled() {
			a.logger.Debug("AI backend not configured", "backend", b.Name)
			continue
		}
		backends = append(backends, ai.NewOpenAIBackend(ai.BackendConfig{
			Name:     b.Name,
			BaseURL:  b.BaseURL,
			APIKey:   b.APIKey,
			Model:    b.Model,
			Timeout:  b.Timeout,
			JSONMode: true,
			Retry:    retry.DefaultPolicy(),
		}, nil, a.logger))
	}
	a.chain = ai.NewChain(a.logger, backends...)
	a.chain.SetObserver(a.metrics)
	return a.chain
}

func (a *app) registry() *sources.Registry {
	r := sources.NewRegistry(sources.Builtin()...)
	for _, cs := range a.cfg.Scrape.CustomSources {
		r.Register(sources.GenericJSONLD(cs.Name, cs.URL, cs.Render, cs.Tags))
	}
	return r
}

// adapters builds the named scrape adapters, falling back to the configured
// list and then to every registered source.
func (a *app) adapters(names []string) ([]ingestion.Adapter, error) {
	if len(names) == 0 {
		names = a.cfg.Scrape.Sources
	}
	deps := sources.Deps{
		HTTP:   sources.NewHTTPFetcher(a.client),
		Dates:  a.dates(),
		Logger: a.logger,
	}
	if a.browser != nil {
		deps.Browser = a.browser
	}
	return a.registry().Build(names, deps)
}

// discovery builds the search pipeline. It needs a search key and at least
// one AI backend.
func (a *app) discovery() (*discovery.Pipeline, error) {
	sc := a.cfg.Search
	if sc.TavilyAPIKey == "" {
		return nil, errors.New("TAVILY_API_KEY is required for discovery")
	}
	chain := a.aiChain()
	if chain.Len() == 0 {
		return nil, errors.New("discovery needs AI_PRIMARY_API_KEY or AI_FALLBACK_API_KEY")
	}

	cfg := discovery.DefaultConfig()
	cfg.Location = sc.Location
	cfg.Organization = sc.Organization
	cfg.MaxResults = sc.MaxResults
	cfg.RecencyDays = sc.RecencyDays
	cfg.RolloverGrace = a.cfg.Normalize.RolloverGrace
	cfg.ExtractBatch = sc.ExtractBatch
	cfg.VerifyDelay = sc.VerifyDelay
	cfg.QueryDelay = sc.QueryDelay
	if len(sc.Domains) > 0 {
		cfg.Domains = sc.Domains
	}
	if len(sc.Topics) > 0 {
		cfg.Topics = make([]discovery.Topic, 0, len(sc.Topics))
		for _, t := range sc.Topics {
			cfg.Topics = append(cfg.Topics, discovery.Topic{Template: t.Template, NextMonth: t.NextMonth})
		}
	}

	var pages discovery.PageFetcher = sources.NewHTTPFetcher(a.client)
	if a.browser != nil {
		pages = a.browser
	}

	p := discovery.NewPipeline(
		cfg,
		search.NewTavilyClient(sc.TavilyAPIKey, sc.TavilyURL, a.client),
		search.NewDebugLog(sc.DebugLogPath),
		chain,
		pages,
		a.clock,
		a.logger,
	)
	p.SetObserver(a.metrics)
	return p, nil
}

func (a *app) coordinator(adapters []ingestion.Adapter, timeout time.Duration) *ingestion.Coordinator {
	cfg := ingestion.DefaultCoordinatorConfig()
	cfg.Interval = a.cfg.Scrape.Interval
	if timeout > 0 {
		cfg.AdapterTimeout = timeout
	}
	merger := ingestion.NewMerger(a.store.Events, a.clock, a.logger)
	c := ingestion.NewCoordinator(adapters, merger, a.store.Runs, a.clock, a.logger, cfg)
	c.SetObserver(a.metrics)
	return c
}

// pipelineAdapters returns the scrape adapters plus, when configured and
// wanted, the discovery pipeline, and the adapter timeout that fits them.
func (a *app) pipelineAdapters(names []string, withSearch bool) ([]ingestion.Adapter, time.Duration, error) {
	adapters, err := a.adapters(names)
	if err != nil {
		return nil, 0, err
	}
	if !withSearch {
		return adapters, 0, nil
	}
	p, err := a.discovery()
	if err != nil {
		a.logger.Warn("discovery disabled", "error", err)
		return adapters, 0, nil
	}
	return append(adapters, p), discoveryTimeout, nil
}

func (a *app) notifier() notify.Notifier {
	n := a.cfg.Notify
	if !n.Enabled() {
		return notify.LogNotifier{Logger: a.logger}
	}
	return notify.NewTelegram(notify.TelegramConfig{
		Token:    n.TelegramToken,
		ChatID:   n.TelegramChatID,
		TopicID:  n.TelegramTopicID,
		Markdown: true,
	}, a.client, a.logger)
}

func (a *app) curation() *curation.Engine {
	cfg := curation.DefaultConfig()
	cfg.WindowDays = a.cfg.Curation.WindowDays
	cfg.Limit = a.cfg.Curation.Limit
	cfg.CandidateCap = a.cfg.Curation.CandidateCap
	if a.cfg.Search.Organization != "" {
		cfg.Organization = a.cfg.Search.Organization
	}
	if len(a.cfg.Curation.Blacklist) > 0 {
		cfg.Blacklist = a.cfg.Curation.Blacklist
	}
	if len(a.cfg.Curation.Allowlist) > 0 {
		cfg.Allowlist = a.cfg.Curation.Allowlist
	}
	return curation.NewEngine(cfg, a.store.Events, a.aiChain(), a.clock, a.logger)
}

// digest selects and formats the upcoming events. It prints instead of
// sending when out is non-nil.
func (a *app) digest(ctx context.Context, windowDays, totalNew int, out io.Writer) error {
	sel, err := a.curation().Select(ctx, windowDays)
	if err != nil {
		return fmt.Errorf("select events: %w", err)
	}

	loc, err := time.LoadLocation(a.cfg.Notify.Timezone)
	if err != nil {
		a.logger.Warn("unknown digest timezone, using UTC", "timezone", a.cfg.Notify.Timezone, "error", err)
		loc = time.UTC
	}

	text := notify.FormatDigest(notify.Digest{
		Title:      digestTitle,
		Intro:      notify.PickIntro(a.clock.Now().In(loc)),
		Events:     sel.Events,
		Considered: sel.Considered,
		TotalNew:   totalNew,
		SiteURL:    a.cfg.Notify.SiteURL,
		Location:   loc,
	})

	a.logger.Info("digest ready", "events", len(sel.Events), "considered", sel.Considered, "ranked", sel.Ranked)
	if out != nil {
		_, err := fmt.Fprintln(out, text)
		return err
	}
	if err := a.notifier().Send(ctx, text); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	return nil
}

// sendReport delivers a run report. Delivery failures are logged only.
func (a *app) sendReport(ctx context.Context, report ingestion.Report) {
	if err := a.notifier().Send(ctx, notify.FormatRunReport(report)); err != nil {
		a.logger.Warn("failed to send run report", "error", err)
	}
}

func (a *app) sink() (*sink.NocoDB, error) {
	s := a.cfg.Sink
	if !s.Enabled() {
		return nil, errors.New("NOCODB_API_TOKEN and NOCODB_BASE_ID are required")
	}
	return sink.NewNocoDB(sink.Config{
		BaseURL:   s.BaseURL,
		Token:     s.Token,
		BaseID:    s.BaseID,
		TableName: s.TableName,
	}, a.client, a.logger), nil
}
