// Package curation selects the upcoming events worth delivering. An AI backend
// ranks a compact summary of the window; a date-ordered fallback covers the
// cases where it returns nothing usable, and a keyword blacklist removes
// off-topic social events either way.
package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/ai"
	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

// EventQuerier reads active events from the canonical store.
type EventQuerier interface {
	Query(ctx context.Context, query models.EventQuery) ([]models.Event, error)
}

// Config controls selection.
type Config struct {
	WindowDays       int
	Limit            int // Events delivered
	CandidateCap     int // Events sent for ranking
	DescriptionChars int
	Organization     string
	Blacklist        []string
	Allowlist        []string
}

// DefaultBlacklist holds title keywords that mark off-topic social events.
func DefaultBlacklist() []string {
	return []string{"dance party", "konpa", "reggae", "gala", "nightclub", "concert"}
}

// DefaultAllowlist holds title keywords that override a blacklist hit.
func DefaultAllowlist() []string {
	return []string{"startup", "tech", "founder"}
}

// DefaultConfig returns the weekly digest defaults.
func DefaultConfig() Config {
	return Config{
		WindowDays:       7,
		Limit:            10,
		CandidateCap:     200,
		DescriptionChars: 300,
		Organization:     "New England Science and Entrepreneurship Club (NESEN)",
		Blacklist:        DefaultBlacklist(),
		Allowlist:        DefaultAllowlist(),
	}
}

// Selection is the outcome of one curation pass.
type Selection struct {
	Events     []models.Event
	Considered int  // Events in the window
	Ranked     bool // Order came from the AI backend
	Filtered   int  // Removed by the blacklist
}

// Engine selects events for delivery.
type Engine struct {
	cfg    Config
	store  EventQuerier
	chain  *ai.Chain
	clock  clock.Clock
	logger *slog.Logger
}

// NewEngine creates a curation engine. chain may be nil, in which case the
// date-ordered fallback is always used.
func NewEngine(cfg Config, store EventQuerier, chain *ai.Chain, c clock.Clock, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = def.WindowDays
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.CandidateCap <= 0 || cfg.CandidateCap > models.MaxQueryLimit {
		cfg.CandidateCap = def.CandidateCap
	}
	if cfg.DescriptionChars <= 0 {
		cfg.DescriptionChars = def.DescriptionChars
	}
	if cfg.Organization == "" {
		cfg.Organization = def.Organization
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = def.Blacklist
	}
	if cfg.Allowlist == nil {
		cfg.Allowlist = def.Allowlist
	}
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		chain:  chain,
		clock:  c,
		logger: logger.With("component", "curation"),
	}
}

// Select returns the events to deliver for [now, now+windowDays]. A
// non-positive windowDays uses the configured window.
func (e *Engine) Select(ctx context.Context, windowDays int) (Selection, error) {
	if windowDays <= 0 {
		windowDays = e.cfg.WindowDays
	}
	now := e.clock.Now().UTC()
	until := now.AddDate(0, 0, windowDays)

	events, err := e.store.Query(ctx, models.EventQuery{
		Since: &now,
		Until: &until,
		Limit: e.cfg.CandidateCap,
	})
	if err != nil {
		return Selection{}, fmt.Errorf("failed to load upcoming events: %w", err)
	}

	sel := Selection{Considered: len(events)}
	e.logger.Info("loaded events for curation", "count", len(events), "window_days", windowDays)
	if len(events) == 0 {
		return sel, nil
	}

	ranked := e.rank(ctx, events)
	if len(ranked) > 0 {
		sel.Ranked = true
	} else {
		ranked = firstByDate(events, e.cfg.Limit)
	}

	sel.Events = FilterBlacklisted(ranked, e.cfg.Blacklist, e.cfg.Allowlist)
	sel.Filtered = len(ranked) - len(sel.Events)
	if sel.Filtered > 0 {
		e.logger.Info("blacklist removed events", "count", sel.Filtered)
	}
	return sel, nil
}

// rank asks the backend for an ordered id list and maps it back onto events.
// Unknown and repeated ids are ignored. Nil means nothing usable came back.
func (e *Engine) rank(ctx context.Context, events []models.Event) []models.Event {
	if e.chain == nil || e.chain.Len() == 0 {
		return nil
	}

	user, err := buildUserPrompt(events, e.cfg.DescriptionChars)
	if err != nil {
		e.logger.Warn("failed to build curation prompt", "error", err)
		return nil
	}

	ids, err := e.chain.IDs(ctx, ai.Request{
		Operation:   "curate",
		System:      buildSystemPrompt(e.cfg.Organization, e.cfg.Limit),
		User:        user,
		Temperature: 0.6,
	})
	if err != nil {
		e.logger.Warn("ai ranking unavailable, using date order", "error", err)
		return nil
	}

	byID := make(map[string]models.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	var out []models.Event
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		out = append(out, ev)
		if len(out) == e.cfg.Limit {
			break
		}
	}
	if len(out) == 0 {
		e.logger.Warn("ai ranking matched no events, using date order", "ids", len(ids))
	}
	return out
}

// FilterBlacklisted drops events whose title contains a blacklisted keyword,
// unless the title also contains an allowlisted one. Matching is
// case-insensitive and order is preserved.
func FilterBlacklisted(events []models.Event, blacklist, allowlist []string) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if Blocked(ev.Title, blacklist, allowlist) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Blocked reports whether a title is removed by the keyword lists.
func Blocked(title string, blacklist, allowlist []string) bool {
	lower := strings.ToLower(title)
	if !containsAny(lower, blacklist) {
		return false
	}
	return !containsAny(lower, allowlist)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// firstByDate returns the first k events; the store already orders by date.
func firstByDate(events []models.Event, k int) []models.Event {
	if len(events) > k {
		events = events[:k]
	}
	return append([]models.Event(nil), events...)
}

type eventSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Location    string `json:"location"`
	Date        string `json:"date"`
}

func buildUserPrompt(events []models.Event, descChars int) (string, error) {
	summaries := make([]eventSummary, len(events))
	for i, ev := range events {
		summaries[i] = eventSummary{
			ID:          ev.ID,
			Title:       ev.Title,
			Description: normalize.Truncate(ev.Description, descChars),
			Source:      ev.Source,
			Location:    ev.Location,
			Date:        ev.Date.Format(time.DateOnly),
		}
	}
	data, err := json.Marshal(summaries)
	if err != nil {
		return "", err
	}
	return "Events List:\n" + string(data), nil
}

func buildSystemPrompt(organization string, limit int) string {
	return fmt.Sprintf(`You are the Event Curator for the %s.

Task: Select UP TO %d events that are STRICTLY relevant to:
- Science/Tech Startups & Entrepreneurship
- DIY Biology / Biotech / Pharma
- DeepTech / AI / Robotics
- Hackathons & Technical Workshops
- Academic Innovation (MIT/Harvard/Tufts)

EXCLUDE:
- Generic parties, holiday galas, concerts, and dance events (unless explicitly for startups).
- General business networking (unless tech-focused).
- Politics, arts, crafts, or unrelated social gatherings.

Return a JSON ARRAY of the ids of the selected events, best first.
If fewer than %d are relevant, return only the relevant ones.
Example: ["id1", "id2"]`, organization, limit, limit)
}
