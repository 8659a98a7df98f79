// Package discovery finds events through web search and AI extraction. Each
// cycle generates queries, searches trusted domains, extracts candidates,
// verifies them against their own pages, applies a stale-year backstop and
// hands the survivors to the merge engine as drafts.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nesen/eventagg/internal/ai"
	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
	"github.com/nesen/eventagg/internal/search"
)


// PageFetcher returns the rendered text content of a page.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Observer is notified of every candidate decision.
type Observer interface {
	ObserveCandidate(stage, outcome string)
}

// Candidate outcomes reported to the Observer.
const (
	OutcomeKept       = "kept"
	OutcomeDiscarded  = "discarded"
	OutcomeUnverified = "unverified"
)

// Config controls one discovery cycle.
type Config struct {
	SourceName    string
	Location      string
	Organization  string
	Domains       []string
	Topics        []Topic
	MaxResults    int
	RecencyDays   int
	ExtractBatch  int
	SnippetChars  int
	PageTextChars int
	VerifyDelay   time.Duration // Minimum spacing between verification calls
	QueryDelay    time.Duration // Pause between search queries
	PageTimeout   time.Duration
	RolloverGrace time.Duration // Year inference for dates without a year
	DefaultTags   []string
}

// DefaultDomains is the allow-list of trusted event sites.
func DefaultDomains() []string {
	return []string{
		"eventbrite.com", "luma.com", "meetup.com", "linkedin.com",
		"techcrunch.com", "boston.com", "mit.edu", "harvard.edu",
	}
}

// DefaultConfig returns the Boston discovery defaults.
func DefaultConfig() Config {
	return Config{
		SourceName:    "Tavily Search",
		Location:      "Boston",
		Organization:  "NESEN (New England Science and Entrepreneurship Network)",
		Domains:       DefaultDomains(),
		Topics:        DefaultTopics(),
		MaxResults:    10,
		RecencyDays:   30,
		ExtractBatch:  5,
		SnippetChars:  500,
		PageTextChars: 3000,
		VerifyDelay:   3 * time.Second,
		QueryDelay:    5 * time.Second,
		PageTimeout:   15 * time.Second,
	}
}

// Stats counts candidate decisions in the most recent cycle.
type Stats struct {
	Queries       int `json:"queries"`
	SearchFailed  int `json:"search_failed"`
	Results       int `json:"results"`
	ExtractFailed int `json:"extract_failed"`
	Extracted     int `json:"extracted"`
	Stale         int `json:"stale"`
	Verified      int `json:"verified"`
	Unverified    int `json:"unverified"`
	Rejected      int `json:"rejected"`
	SafetyDropped int `json:"safety_dropped"`
	Duplicates    int `json:"duplicates"`
	Emitted       int `json:"emitted"`
}

// Pipeline runs discovery cycles. It implements ingestion.Adapter so the
// coordinator records a run for each cycle.
type Pipeline struct {
	cfg      Config
	searcher search.Searcher
	debug    *search.DebugLog
	chain    *ai.Chain
	pages    PageFetcher
	clock    clock.Clock
	dates    *normalize.DateParser
	logger   *slog.Logger
	limiter  *rate.Limiter
	observer Observer

	mu    sync.Mutex
	stats Stats
}

// NewPipeline creates a discovery pipeline. debug may be nil.
func NewPipeline(
	cfg Config,
	searcher search.Searcher,
	debug *search.DebugLog,
	chain *ai.Chain,
	pages PageFetcher,
	c clock.Clock,
	logger *slog.Logger,
) *Pipeline {
	def := DefaultConfig()
	if cfg.SourceName == "" {
		cfg.SourceName = def.SourceName
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = def.Topics
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.ExtractBatch <= 0 {
		cfg.ExtractBatch = def.ExtractBatch
	}
	if cfg.SnippetChars <= 0 {
		cfg.SnippetChars = def.SnippetChars
	}
	if cfg.PageTextChars <= 0 {
		cfg.PageTextChars = def.PageTextChars
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.VerifyDelay > 0 {
		limit = rate.Every(cfg.VerifyDelay)
	}

	return &Pipeline{
		cfg:      cfg,
		searcher: searcher,
		debug:    debug,
		chain:    chain,
		pages:    pages,
		clock:    c,
		dates:    normalize.NewDateParser(c, cfg.RolloverGrace, logger),
		logger:   logger.With("component", "discovery"),
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// SetObserver attaches an observer for candidate decisions.
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// Name returns the source name stamped on discovered drafts.
func (p *Pipeline) Name() string {
	return p.cfg.SourceName
}

// LastStats returns the counters of the most recent cycle.
func (p *Pipeline) LastStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run executes one full discovery cycle. Failures are contained per query and
// per candidate; an error is returned only when every query failed.
func (p *Pipeline) Run(ctx context.Context) ([]models.Draft, error) {
	now := p.clock.Now().UTC()
	queries := GenerateQueries(now, p.cfg.Location, p.cfg.Topics)

	var stats Stats
	stats.Queries = len(queries)
	defer func() {
		p.mu.Lock()
		p.stats = stats
		p.mu.Unlock()
	}()

	seen := ingestion.NewURLDeduplicator()
	var drafts []models.Draft
	var errs []error

	for i, query := range queries {
		if i > 0 && p.cfg.QueryDelay > 0 {
			if err := sleep(ctx, p.cfg.QueryDelay); err != nil {
				return drafts, err
			}
		}
		if err := ctx.Err(); err != nil {
			return drafts, err
		}

		logger := p.logger.With("query", query)

		results, err := p.search(ctx, query)
		if err != nil {
			stats.SearchFailed++
			errs = append(errs, err)
			logger.Warn("search failed", "error", err)
			continue
		}
		stats.Results += len(results)
		if len(results) == 0 {
			continue
		}

		candidates, stale, err := p.extract(ctx, now, results)
		stats.Stale += stale
		if err != nil {
			stats.ExtractFailed++
			errs = append(errs, err)
			logger.Warn("extraction failed, batch discarded", "error", err)
			continue
		}
		stats.Extracted += len(candidates)

		for _, cand := range candidates {
			cand, ok := p.verify(ctx, now, cand)
			switch cand.State {
			case models.VerificationVerified:
				stats.Verified++
			case models.VerificationUnverified:
				stats.Unverified++
			default:
				stats.Rejected++
			}
			if !ok {
				continue
			}

			date, err := p.dates.Parse(cand.Date)
			if err == nil {
				err = SafetyFilter(date, now)
			} else {
				err = fmt.Errorf("%w: unreadable date %q", ingestion.ErrSafetyRejected, cand.Date)
			}
			if err != nil {
				stats.SafetyDropped++
				p.observe("safety", OutcomeDiscarded)
				logger.Info("candidate discarded", "title", cand.Title, "date", cand.Date, "reason", err)
				continue
			}
			p.observe("safety", OutcomeKept)

			if !seen.IsNew(cand.URL) {
				stats.Duplicates++
				continue
			}
			seen.Mark(cand.URL)
			drafts = append(drafts, p.toDraft(cand, date))
		}

		logger.Info("query processed", "results", len(results), "candidates", len(candidates))
	}

	stats.Emitted = len(drafts)
	p.logger.Info("discovery cycle complete",
		"queries", stats.Queries,
		"extracted", stats.Extracted,
		"verified", stats.Verified,
		"unverified", stats.Unverified,
		"rejected", stats.Rejected,
		"emitted", stats.Emitted,
	)

	if len(queries) > 0 && len(errs) == len(queries) {
		return drafts, fmt.Errorf("every discovery query failed: %w", errors.Join(errs...))
	}
	return drafts, nil
}

func (p *Pipeline) search(ctx context.Context, query string) ([]search.Result, error) {
	results, err := p.searcher.Search(ctx, search.Query{
		Text:           query,
		IncludeDomains: p.cfg.Domains,
		MaxResults:     p.cfg.MaxResults,
		Days:           p.cfg.RecencyDays,
	})

	rec := search.Record{Query: query, Timestamp: p.clock.Now().UTC(), Results: results}
	if err != nil {
		rec.Error = err.Error()
	}
	if derr := p.debug.Append(rec); derr != nil {
		p.logger.Warn("failed to write search debug log", "error", derr)
	}

	if err != nil {
		return nil, ingestion.NewUnitError(ingestion.ErrBackendUnavailable, "search: "+query, err)
	}
	return results, nil
}

// extract sends the first results to the text-generation chain and returns
// the candidates that carry a title, url and upcoming date, plus the number
// dropped as stale.
func (p *Pipeline) extract(ctx context.Context, now time.Time, results []search.Result) ([]models.Candidate, int, error) {
	if len(results) > p.cfg.ExtractBatch {
		results = results[:p.cfg.ExtractBatch]
	}

	items := make([]extractItem, len(results))
	for i, r := range results {
		items[i] = extractItem{
			ID:       i,
			Title:    r.Title,
			Snippet:  normalize.Truncate(r.Content, p.cfg.SnippetChars),
			DateHint: r.PublishedDate,
			URL:      r.URL,
		}
	}

	user, err := buildExtractUserPrompt(items)
	if err != nil {
		return nil, 0, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	records, err := p.chain.Records(ctx, ai.Request{
		Operation:   "extract",
		System:      buildExtractSystemPrompt(now, p.cfg.Organization),
		User:        user,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, 0, ingestion.NewUnitError(ingestion.ErrBackendUnavailable, "extract", err)
	}

	var candidates []models.Candidate
	stale := 0
	for _, rec := range records {
		cand, err := decodeCandidate(rec)
		if err != nil {
			p.logger.Debug("skipping malformed candidate", "error", err)
			p.observe("extract", OutcomeDiscarded)
			continue
		}
		if err := p.upcomingGate(cand, now); err != nil {
			if errors.Is(err, ingestion.ErrSafetyRejected) {
				stale++
			}
			p.logger.Info("skipping extracted candidate", "title", cand.Title, "date", cand.Date, "reason", err)
			p.observe("extract", OutcomeDiscarded)
			continue
		}
		p.observe("extract", OutcomeKept)
		candidates = append(candidates, cand)
	}
	return candidates, stale, nil
}

// verify checks a candidate against its own page. A page that cannot be
// loaded passes the candidate through unverified. A verifier rejection or an
// exhausted backend chain discards it.
func (p *Pipeline) verify(ctx context.Context, now time.Time, cand models.Candidate) (models.Candidate, bool) {
	logger := p.logger.With("title", cand.Title, "url", cand.URL)

	if p.pages == nil {
		cand.State = models.VerificationUnverified
		p.observe("verify", OutcomeUnverified)
		return cand, true
	}

	pageCtx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
	text, err := p.pages.FetchText(pageCtx, cand.URL)
	cancel()
	if err != nil {
		logger.Warn("page fetch failed, passing candidate through unverified", "error", err)
		cand.State = models.VerificationUnverified
		p.observe("verify", OutcomeUnverified)
		return cand, true
	}
	text = normalize.Truncate(strings.Join(strings.Fields(text), " "), p.cfg.PageTextChars)

	if err := p.limiter.Wait(ctx); err != nil {
		cand.State = models.VerificationRejected
		return cand, false
	}

	var verdict struct {
		IsValid       bool   `json:"is_valid"`
		ConfirmedDate string `json:"confirmed_date"`
		Reason        string `json:"reason"`
		UpdatedTitle  string `json:"updated_title"`
	}
	err = p.chain.Object(ctx, ai.Request{
		Operation:   "verify",
		System:      buildVerifySystemPrompt(now),
		User:        buildVerifyUserPrompt(candidateClaim{Title: cand.Title, Date: cand.Date, URL: cand.URL}, text),
		Temperature: 0,
	}, &verdict)
	if err != nil {
		logger.Warn("verification unavailable, candidate discarded", "error", err)
		cand.State = models.VerificationRejected
		p.observe("verify", OutcomeDiscarded)
		return cand, false
	}

	if !verdict.IsValid {
		logger.Info("verifier rejected candidate", "reason", verdict.Reason)
		cand.State = models.VerificationRejected
		p.observe("verify", OutcomeDiscarded)
		return cand, false
	}

	if d := strings.TrimSpace(verdict.ConfirmedDate); d != "" {
		if _, err := p.dates.Parse(d); err == nil {
			cand.Date = d
		} else {
			logger.Warn("confirmed date unreadable, keeping extracted date", "confirmed_date", d, "date", cand.Date)
		}
	}
	if t := strings.TrimSpace(verdict.UpdatedTitle); t != "" {
		cand.Title = t
	}
	cand.State = models.VerificationVerified
	p.observe("verify", OutcomeKept)
	return cand, true
}

// toDraft converts a surviving candidate with its resolved date. Its identity
// is its URL since title and date are AI-derived.
func (p *Pipeline) toDraft(cand models.Candidate, date time.Time) models.Draft {
	d := models.Draft{
		Title:         strings.TrimSpace(cand.Title),
		Description:   strings.TrimSpace(cand.Description),
		Location:      strings.TrimSpace(cand.Location),
		URL:           strings.TrimSpace(cand.URL),
		Source:        p.cfg.SourceName,
		Date:          date,
		IdentityByURL: true,
	}
	d.AddTags(p.cfg.DefaultTags...)
	d.AddTags(normalize.Tags(d.Title, d.Description)...)
	return d
}

func (p *Pipeline) observe(stage, outcome string) {
	if p.observer != nil {
		p.observer.ObserveCandidate(stage, outcome)
	}
}

// SafetyFilter rejects a resolved date whose year is before the year of now.
func SafetyFilter(date, now time.Time) error {
	if date.Year() < now.Year() {
		return fmt.Errorf("%w: year %d is before %d", ingestion.ErrSafetyRejected, date.Year(), now.Year())
	}
	return nil
}

// upcomingGate applies the extraction rules: title, url and a readable date
// are required, stale years are dropped and anything older than a day ago is
// treated as passed.
func (p *Pipeline) upcomingGate(cand models.Candidate, now time.Time) error {
	if strings.TrimSpace(cand.Title) == "" || strings.TrimSpace(cand.URL) == "" || strings.TrimSpace(cand.Date) == "" {
		return fmt.Errorf("%w: missing title, url or date", ingestion.ErrParseFailure)
	}
	date, err := p.dates.Parse(cand.Date)
	if err != nil {
		return fmt.Errorf("%w: date %q", ingestion.ErrParseFailure, cand.Date)
	}
	if err := SafetyFilter(date, now); err != nil {
		return err
	}
	if date.Before(now.AddDate(0, 0, -1)) {
		return fmt.Errorf("%w: event already passed", ingestion.ErrSafetyRejected)
	}
	return nil
}

// wireCandidate tolerates a relevance score sent as a string.
type wireCandidate struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Date           string          `json:"date"`
	Location       string          `json:"location"`
	URL            string          `json:"url"`
	RelevanceScore json.RawMessage `json:"relevance_score"`
}

func decodeCandidate(rec json.RawMessage) (models.Candidate, error) {
	var w wireCandidate
	if err := json.Unmarshal(rec, &w); err != nil {
		return models.Candidate{}, fmt.Errorf("%w: %w", ingestion.ErrParseFailure, err)
	}
	return models.Candidate{
		Title:          w.Title,
		Description:    w.Description,
		Date:           w.Date,
		Location:       w.Location,
		URL:            w.URL,
		RelevanceScore: parseScore(w.RelevanceScore),
		State:          models.VerificationUnverified,
	}, nil
}

func parseScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
