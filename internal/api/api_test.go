package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nesen/eventagg/internal/auth"
	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/metrics"
	"github.com/nesen/eventagg/internal/models"
)

const testSecret = "admin-secret"

var refNow = time.Date(2025, 12, 10, 15, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu        sync.Mutex
	calls     int
	release   chan struct{} // When set, RunAll blocks until closed
	started   chan struct{}
	report    ingestion.Report
	statuses  []ingestion.AdapterStatus
	scheduled bool
}

func (f *fakeRunner) RunAll(ctx context.Context) (ingestion.Report, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.report, nil
}

func (f *fakeRunner) Statuses() []ingestion.AdapterStatus { return f.statuses }

func (f *fakeRunner) IsRunning() bool { return f.scheduled }

type testServer struct {
	handler http.Handler
	events  *ingestion.MemoryEventRepository
	runs    *ingestion.MemoryRunRepository
	runner  *fakeRunner
	reports chan ingestion.Report
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	events := ingestion.NewMemoryEventRepository()
	seed := []models.Event{
		{ID: "past", Title: "Yesterday Mixer", URL: "https://lu.ma/past", Source: "Luma", Date: refNow.AddDate(0, 0, -1), IsActive: true},
		{ID: "meetup", Title: "Go Night", URL: "https://meetup.com/go", Source: "Meetup", Date: refNow.AddDate(0, 0, 3), IsActive: true, Tags: []string{"Engineering"}},
		{ID: "luma", Title: "AI Founders Mixer", URL: "https://lu.ma/ai", Source: "Luma", Location: "Cambridge", Date: refNow.AddDate(0, 0, 2), IsActive: true, Tags: []string{"AI", "Startup"}},
		{ID: "far", Title: "Summit", URL: "https://example.com/summit", Source: "Eventbrite", Date: refNow.AddDate(0, 2, 0), IsActive: true},
		{ID: "gone", Title: "Cancelled", URL: "https://lu.ma/gone", Source: "Luma", Date: refNow.AddDate(0, 0, 1), IsActive: false},
	}
	for _, e := range seed {
		if err := events.Insert(context.Background(), e); err != nil {
			t.Fatalf("seed %s: %v", e.ID, err)
		}
	}

	runs := ingestion.NewMemoryRunRepository()
	finished := refNow
	run := models.IngestionRun{ID: "run-1", Source: "Luma", StartedAt: refNow.Add(-time.Minute), Status: models.RunStatusRunning}
	if err := runs.Start(context.Background(), run); err != nil {
		t.Fatalf("start run: %v", err)
	}
	run.FinishedAt = &finished
	run.Status = models.RunStatusSuccess
	run.EventsFound = 3
	if err := runs.Finish(context.Background(), run); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	ts := &testServer{
		events:  events,
		runs:    runs,
		runner:  &fakeRunner{report: ingestion.Report{TotalNew: 4, Success: []ingestion.Result{{Source: "Luma"}}}},
		reports: make(chan ingestion.Report, 4),
	}
	ts.handler = NewRouter(Config{
		Events:   events,
		Runs:     runs,
		Runner:   ts.runner,
		Metrics:  collector,
		Auth:     auth.Config{JWTSecret: testSecret},
		Clock:    clock.Fixed(refNow),
		Logger:   logger,
		SiteURL:  "https://events.example.org",
		OnReport: func(r ingestion.Report) { ts.reports <- r },
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("ops", testSecret, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func eventIDs(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var body EventsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode events: %v (body=%q)", err, rr.Body.String())
	}
	ids := make([]string, 0, len(body.Events))
	for _, e := range body.Events {
		ids = append(ids, e.ID)
	}
	if body.Count != len(ids) {
		t.Errorf("count %d does not match %d events", body.Count, len(ids))
	}
	return ids
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{name: "upcoming by default", target: "/api/events", want: "luma,meetup,far"},
		{name: "source substring", target: "/api/events?source=LUM", want: "luma"},
		{name: "until day", target: "/api/events?until=2025-12-13", want: "luma"},
		{name: "since rfc3339", target: "/api/events?since=2025-12-01T00:00:00Z&until=2025-12-31", want: "past,luma,meetup"},
		{name: "limit and offset", target: "/api/events?limit=1&offset=1", want: "meetup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodGet, tt.target, "")
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := strings.Join(eventIDs(t, rr), ","); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestListEventsRejectsBadQuery(t *testing.T) {
	ts := newTestServer(t)

	for _, target := range []string{
		"/api/events?since=yesterday",
		"/api/events?limit=abc",
		"/api/events?limit=1000",
		"/api/events?offset=-1",
		"/api/events?since=2025-12-20&until=2025-12-01",
	} {
		t.Run(target, func(t *testing.T) {
			if rr := ts.do(t, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestRSSFeed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/rss.xml?days=7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("unexpected content type %q", ct)
	}

	var feed RSS
	if err := xml.Unmarshal(rr.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if feed.Channel.Link != "https://events.example.org" {
		t.Errorf("expected site link, got %q", feed.Channel.Link)
	}
	if len(feed.Channel.Items) != 2 {
		t.Fatalf("expected 2 items within 7 days, got %d", len(feed.Channel.Items))
	}

	first := feed.Channel.Items[0]
	if first.Title != "AI Founders Mixer" || first.Link != "https://lu.ma/ai" || first.GUID.Value != "luma" {
		t.Errorf("unexpected first item %+v", first)
	}
	if !strings.Contains(first.Description, "Cambridge") {
		t.Errorf("expected location in description, got %q", first.Description)
	}
	if strings.Join(first.Categories, ",") != "AI,Startup" {
		t.Errorf("expected tag categories, got %v", first.Categories)
	}

	t.Run("source filter", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/rss.xml?source=meetup", "")
		var feed RSS
		if err := xml.Unmarshal(rr.Body.Bytes(), &feed); err != nil {
			t.Fatalf("decode feed: %v", err)
		}
		if len(feed.Channel.Items) != 1 || feed.Channel.Items[0].GUID.Value != "meetup" {
			t.Errorf("expected only the Meetup event, got %+v", feed.Channel.Items)
		}
	})

	t.Run("invalid days", func(t *testing.T) {
		if rr := ts.do(t, http.MethodGet, "/rss.xml?days=0", ""); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestHealthAndRuns(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"events":4`) {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/api/runs?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Runs []models.IngestionRun `json:"runs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(body.Runs) != 1 || body.Runs[0].Status != models.RunStatusSuccess {
		t.Errorf("unexpected runs %+v", body.Runs)
	}

	if rr := ts.do(t, http.MethodGet, "/api/runs?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for limit=0, got %d", rr.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/api/admin/runs"},
		{http.MethodDelete, "/api/admin/events/luma"},
	} {
		if rr := ts.do(t, tc.method, tc.target, ""); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.target, rr.Code)
		}
	}
	if ts.runner.calls != 0 {
		t.Error("runner invoked without a token")
	}
}

func TestAdminDeactivate(t *testing.T) {
	ts := newTestServer(t)
	token := adminToken(t)

	if rr := ts.do(t, http.MethodDelete, "/api/admin/events/luma", token); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	rr := ts.do(t, http.MethodGet, "/api/events", "")
	if got := strings.Join(eventIDs(t, rr), ","); got != "meetup,far" {
		t.Errorf("expected deactivated event hidden, got %s", got)
	}

	stored, err := ts.events.GetByID(context.Background(), "luma")
	if err != nil || stored == nil {
		t.Fatalf("expected soft-deleted event kept, got %v, %v", stored, err)
	}

	if rr := ts.do(t, http.MethodDelete, "/api/admin/events/missing", token); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rr.Code)
	}
}

func TestAdminTriggerRunWait(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/admin/runs?wait=true", adminToken(t))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary RunSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Success != 1 || summary.TotalNew != 4 {
		t.Errorf("unexpected summary %+v", summary)
	}

	select {
	case r := <-ts.reports:
		if r.TotalNew != 4 {
			t.Errorf("unexpected report %+v", r)
		}
	default:
		t.Error("expected report callback")
	}
}

func TestAdminTriggerRunWaitOutlivesWriteTimeout(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.release = make(chan struct{})
	time.AfterFunc(300*time.Millisecond, func() { close(ts.runner.release) })

	srv := httptest.NewUnstartedServer(ts.handler)
	srv.Config.WriteTimeout = 50 * time.Millisecond
	srv.Start()
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/admin/runs?wait=true", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken(t))

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("run longer than the write timeout dropped the response: %v", err)
	}
	defer resp.Body.Close()

	var summary RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if resp.StatusCode != http.StatusOK || summary.TotalNew != 4 {
		t.Errorf("unexpected response %d %+v", resp.StatusCode, summary)
	}
}

func TestSourceStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.scheduled = true
	ts.runner.statuses = []ingestion.AdapterStatus{
		{Name: "Luma", Healthy: true, LastFound: 12, TotalNew: 30},
		{Name: "Meetup", Healthy: false, LastError: "render timeout", TotalErrors: 2},
	}

	rr := ts.do(t, http.MethodGet, "/api/sources", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body SourcesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if !body.Scheduled || len(body.Sources) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Sources[1].Healthy || body.Sources[1].LastError != "render timeout" {
		t.Errorf("unhealthy source not reported: %+v", body.Sources[1])
	}
}

func TestAdminTriggerRunBackground(t *testing.T) {
	ts := newTestServer(t)
	ts.runner.started = make(chan struct{})
	ts.runner.release = make(chan struct{})
	token := adminToken(t)

	if rr := ts.do(t, http.MethodPost, "/api/admin/runs", token); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	<-ts.runner.started

	if rr := ts.do(t, http.MethodPost, "/api/admin/runs", token); rr.Code != http.StatusConflict {
		t.Errorf("expected 409 while a run is in flight, got %d", rr.Code)
	}

	close(ts.runner.release)
	select {
	case <-ts.reports:
	case <-time.After(2 * time.Second):
		t.Fatal("background run did not report")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/events", "")

	rr := ts.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := `eventagg_http_requests_total{method="GET",path="/api/events",status="200"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("expected %s in metrics output", want)
	}
}
