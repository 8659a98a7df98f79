package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics handler to return 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestCollectorRecordsHTTPMetrics(t *testing.T) {
	collector, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	handlerInvoked := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerInvoked = true
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	collector.InstrumentHandler(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !handlerInvoked {
		t.Fatal("expected handler to be invoked")
	}
	if rr.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d", rr.Code)
	}

	body := scrape(t, collector)
	if !strings.Contains(body, `eventagg_http_requests_total{method="GET",path="/test",status="202"} 1`) {
		t.Fatalf("requests_total metric not recorded, body=%q", body)
	}
	if !strings.Contains(body, `eventagg_http_request_duration_seconds_count{method="GET",path="/test",status="202"} 1`) {
		t.Fatalf("request_duration_seconds_count metric not recorded, body=%q", body)
	}
}

func TestCollectorLabelsByRoutePattern(t *testing.T) {
	collector, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	r := chi.NewRouter()
	r.Use(collector.InstrumentHandler)
	r.Delete("/api/admin/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/admin/events/"+id, nil))
	}

	body := scrape(t, collector)
	want := `eventagg_http_requests_total{method="DELETE",path="/api/admin/events/{id}",status="204"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %s, body=%q", want, body)
	}
}

func TestCollectorObservers(t *testing.T) {
	collector, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	collector.ObserveRun("Luma", models.RunStatusSuccess, ingestion.Counts{Found: 4, New: 3, Updated: 1}, 2*time.Second)
	collector.ObserveRun("Meetup", models.RunStatusError, ingestion.Counts{}, time.Second)
	collector.ObserveCandidate("verify", "kept")
	collector.ObserveCandidate("verify", "kept")
	collector.ObserveCall("primary", "extract", nil, 100*time.Millisecond)
	collector.ObserveCall("primary", "extract", errors.New("boom"), 100*time.Millisecond)

	body := scrape(t, collector)
	tests := []string{
		`eventagg_ingestion_runs_total{source="Luma",status="success"} 1`,
		`eventagg_ingestion_runs_total{source="Meetup",status="error"} 1`,
		`eventagg_ingestion_events_total{outcome="found",source="Luma"} 4`,
		`eventagg_ingestion_events_total{outcome="new",source="Luma"} 3`,
		`eventagg_ingestion_events_total{outcome="updated",source="Luma"} 1`,
		`eventagg_ingestion_run_duration_seconds_count{source="Luma"} 1`,
		`eventagg_discovery_candidates_total{outcome="kept",stage="verify"} 2`,
		`eventagg_ai_calls_total{backend="primary",operation="extract",result="ok"} 1`,
		`eventagg_ai_calls_total{backend="primary",operation="extract",result="error"} 1`,
		`eventagg_ai_call_duration_seconds_count{backend="primary",operation="extract"} 2`,
	}
	for _, want := range tests {
		t.Run(want, func(t *testing.T) {
			if !strings.Contains(body, want) {
				t.Errorf("missing %s", want)
			}
		})
	}

	if strings.Contains(body, `outcome="skipped",source="Luma"`) {
		t.Error("zero counts should not create series")
	}
}
