package discovery

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nesen/eventagg/internal/ai"
	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/search"
)

var refNow = time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)

type fakeSearcher struct {
	mu      sync.Mutex
	results []search.Result
	err     error
	queries []search.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.results, f.err
}

type fakePages struct {
	text string
	err  error
	urls []string
}

func (f *fakePages) FetchText(ctx context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.text, f.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Topics = []Topic{{Template: "startup events in {location} {month} {year}"}}
	cfg.VerifyDelay = 0
	cfg.QueryDelay = 0
	cfg.PageTimeout = time.Second
	return cfg
}

func oneResult() []search.Result {
	return []search.Result{{
		Title:   "AI Founders Mixer",
		URL:     "https://lu.ma/ai-founders",
		Content: "Join founders for an evening of demos.",
	}}
}

func newTestPipeline(cfg Config, s search.Searcher, pages PageFetcher, backends ...ai.Backend) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := ai.NewChain(logger, backends...)
	return NewPipeline(cfg, s, nil, chain, pages, clock.Fixed(refNow), logger)
}

func TestGenerateQueries(t *testing.T) {
	dec := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	queries := GenerateQueries(dec, "Boston", DefaultTopics())

	if len(queries) != len(DefaultTopics()) {
		t.Fatalf("expected %d queries, got %d", len(DefaultTopics()), len(queries))
	}
	if queries[0] != "upcoming startup events in Boston December 2025" {
		t.Errorf("current month query = %q", queries[0])
	}
	if queries[1] != "upcoming startup events in Boston January 2026" {
		t.Errorf("next month query = %q", queries[1])
	}
	if queries[5] != "MIT innovation events December 2025 open to public" {
		t.Errorf("query without location = %q", queries[5])
	}
}

func TestSafetyFilter(t *testing.T) {
	tests := []struct {
		name    string
		date    time.Time
		wantErr bool
	}{
		{"stale year", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"last year", time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), true},
		{"this year", time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC), false},
		{"next year", time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafetyFilter(tt.date, refNow)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafetyFilter(%v) error = %v, wantErr %v", tt.date, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ingestion.ErrSafetyRejected) {
				t.Errorf("expected ErrSafetyRejected, got %v", err)
			}
		})
	}
}

func TestPipeline_StaleConfirmedDateInProseDiscarded(t *testing.T) {
	backend := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","date":"2025-12-10","url":"https://lu.ma/ai-founders"}]`},
		ai.MockResponse{Content: `{"is_valid":true,"confirmed_date":"June 1, 2023","reason":"page date"}`},
	)
	pages := &fakePages{text: "AI Founders Mixer, June 1, 2023"}
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, pages, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("expected 2023 confirmation to be discarded, got %+v", drafts)
	}
	if stats := p.LastStats(); stats.Verified != 1 || stats.SafetyDropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_UnreadableConfirmedDateKeepsExtracted(t *testing.T) {
	backend := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","date":"2025-12-10","url":"https://lu.ma/ai-founders"}]`},
		ai.MockResponse{Content: `{"is_valid":true,"confirmed_date":"sometime next spring","reason":"vague"}`},
	)
	pages := &fakePages{text: "AI Founders Mixer"}
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, pages, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected one draft, got %d", len(drafts))
	}
	if want := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC); !drafts[0].Date.Equal(want) {
		t.Errorf("Date = %v, want extracted %v", drafts[0].Date, want)
	}
}

func TestPipeline_StaleYearDiscardedAfterVerification(t *testing.T) {
	backend := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","date":"2025-12-10","url":"https://lu.ma/ai-founders","relevance_score":9}]`},
		ai.MockResponse{Content: `{"is_valid":true,"confirmed_date":"2023-06-01","reason":"page date","updated_title":"AI Founders Mixer"}`},
	)
	pages := &fakePages{text: "AI Founders Mixer June 1 2023"}
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, pages, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("expected stale candidate to be discarded, got %+v", drafts)
	}
	stats := p.LastStats()
	if stats.Verified != 1 || stats.SafetyDropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_FailOpenOnFetchFailure(t *testing.T) {
	backend := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","description":"Demos and drinks","date":"2026-01-10","location":"Cambridge","url":"https://lu.ma/ai-founders","relevance_score":"8"}]`},
	)
	pages := &fakePages{err: context.DeadlineExceeded}
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, pages, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected candidate to pass through, got %d drafts", len(drafts))
	}

	d := drafts[0]
	if d.Title != "AI Founders Mixer" || d.Description != "Demos and drinks" || d.Location != "Cambridge" {
		t.Errorf("candidate modified: %+v", d)
	}
	if want := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC); !d.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", d.Date, want)
	}
	if !d.IdentityByURL || d.Source != "Tavily Search" {
		t.Errorf("expected url identity with search source, got %+v", d)
	}
	if len(backend.Calls()) != 1 {
		t.Errorf("expected no verification call, got %d calls", len(backend.Calls()))
	}
	if stats := p.LastStats(); stats.Unverified != 1 {
		t.Errorf("expected one unverified candidate, got %+v", stats)
	}
}

func TestPipeline_VerifiedUpdatesTitleAndDate(t *testing.T) {
	backend := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `{"events":[{"title":"Founders Mixer","date":"2026-01-09","url":"https://lu.ma/ai-founders"}]}`},
		ai.MockResponse{Content: "```json\n{\"is_valid\":true,\"confirmed_date\":\"2026-01-10\",\"reason\":\"ok\",\"updated_title\":\"AI Founders Mixer\"}\n```"},
	)
	pages := &fakePages{text: "  AI Founders Mixer \n Saturday January 10  "}
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, pages, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected one draft, got %d", len(drafts))
	}
	if drafts[0].Title != "AI Founders Mixer" {
		t.Errorf("Title = %q, want verifier title", drafts[0].Title)
	}
	if want := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC); !drafts[0].Date.Equal(want) {
		t.Errorf("Date = %v, want confirmed %v", drafts[0].Date, want)
	}

	calls := backend.Calls()
	if len(calls) != 2 || calls[1].Operation != "verify" {
		t.Fatalf("expected extract then verify, got %+v", calls)
	}
	if !strings.Contains(calls[1].User, "AI Founders Mixer Saturday January 10") {
		t.Errorf("page text not collapsed into prompt: %q", calls[1].User)
	}
}

func TestPipeline_VerifierRejection(t *testing.T) {
	backend := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","date":"2026-01-10","url":"https://lu.ma/ai-founders"}]`},
		ai.MockResponse{Content: `{"is_valid":false,"confirmed_date":"","reason":"event cancelled","updated_title":""}`},
	)
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, &fakePages{text: "cancelled"}, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("expected rejection to discard candidate, got %+v", drafts)
	}
	if stats := p.LastStats(); stats.Rejected != 1 {
		t.Errorf("expected one rejection, got %+v", stats)
	}
}

func TestPipeline_FallsBackToSecondaryBackend(t *testing.T) {
	primary := ai.NewMockBackend("primary", ai.MockResponse{Err: errors.New("quota exceeded")})
	secondary := ai.NewMockBackend("secondary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","date":"2026-01-10","url":"https://lu.ma/ai-founders"}]`},
		ai.MockResponse{Content: `{"is_valid":true,"confirmed_date":"2026-01-10","reason":"ok","updated_title":""}`},
	)
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, &fakePages{text: "page"}, primary, secondary)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected secondary backend to serve both stages, got %d drafts", len(drafts))
	}
	if len(primary.Calls()) != 2 || len(secondary.Calls()) != 2 {
		t.Errorf("calls primary=%d secondary=%d, want 2 each", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestPipeline_ExhaustedVerificationDiscards(t *testing.T) {
	primary := ai.NewMockBackend("primary",
		ai.MockResponse{Content: `[{"title":"AI Founders Mixer","date":"2026-01-10","url":"https://lu.ma/ai-founders"}]`},
		ai.MockResponse{Content: "not json at all"},
	)
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, &fakePages{text: "page"}, primary)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("expected candidate to be discarded, got %+v", drafts)
	}
}

func TestPipeline_ExtractGateAndDedup(t *testing.T) {
	backend := ai.NewMockBackend("primary", ai.MockResponse{Content: `[
		{"title":"AI Founders Mixer","date":"2025-12-10","url":"https://lu.ma/ai-founders"},
		{"title":"AI Founders Mixer (copy)","date":"2025-12-10","url":"https://lu.ma/ai-founders"},
		{"title":"Last Month Demo Day","date":"2025-11-01","url":"https://lu.ma/demo"},
		{"title":"Old Hackathon","date":"2023-06-01","url":"https://lu.ma/old"},
		{"title":"No Link","date":"2025-12-12","url":""},
		{"title":"Vague Date","date":"next week","url":"https://lu.ma/vague"}
	]`})
	p := newTestPipeline(testConfig(), &fakeSearcher{results: oneResult()}, nil, backend)

	drafts, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("expected one draft, got %+v", drafts)
	}
	if drafts[0].Title != "AI Founders Mixer" {
		t.Errorf("expected first occurrence kept, got %q", drafts[0].Title)
	}
	if !drafts[0].Date.Equal(time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected date %v", drafts[0].Date)
	}

	stats := p.LastStats()
	if stats.Extracted != 2 || stats.Stale != 2 || stats.Duplicates != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_ExtractBatchBounded(t *testing.T) {
	var results []search.Result
	for i := 0; i < 8; i++ {
		results = append(results, search.Result{Title: "r", URL: "https://example.com/" + string(rune('a'+i))})
	}
	backend := ai.NewMockBackend("primary", ai.MockResponse{Content: `[]`})
	p := newTestPipeline(testConfig(), &fakeSearcher{results: results}, nil, backend)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	calls := backend.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one extract call, got %d", len(calls))
	}
	if strings.Contains(calls[0].User, "https://example.com/f") {
		t.Error("extraction batch exceeded the configured size")
	}
	if !strings.Contains(calls[0].User, "https://example.com/e") {
		t.Error("extraction batch missing the fifth result")
	}
}

func TestPipeline_AllQueriesFail(t *testing.T) {
	cfg := testConfig()
	cfg.Topics = []Topic{{Template: "a {year}"}, {Template: "b {year}"}}
	s := &fakeSearcher{err: errors.New("search backend down")}
	p := newTestPipeline(cfg, s, nil, ai.NewMockBackend("primary"))

	drafts, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when every query fails")
	}
	if !errors.Is(err, ingestion.ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if len(drafts) != 0 {
		t.Errorf("expected no drafts, got %d", len(drafts))
	}
	if len(s.queries) != 2 {
		t.Errorf("expected both queries attempted, got %d", len(s.queries))
	}
}

func TestPipeline_WritesDebugLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.jsonl")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Topics = []Topic{{Template: "a {year}"}, {Template: "b {year}"}}
	chain := ai.NewChain(logger, ai.NewMockBackend("primary", ai.MockResponse{Content: `[]`}))
	p := NewPipeline(cfg, &fakeSearcher{results: oneResult()}, search.NewDebugLog(path), chain, nil, clock.Fixed(refNow), logger)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("debug log not written: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("expected one record per query, got %d", lines)
	}
}
