package search

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTavilyClient_Search(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"query":"q","results":[{"title":"Demo Day","url":"https://lu.ma/demo","content":"Jan 10","score":0.9}]}`))
	}))
	defer srv.Close()

	client := NewTavilyClient("key", srv.URL, srv.Client())
	results, err := client.Search(context.Background(), Query{
		Text:           "Boston startup events January 2026",
		IncludeDomains: []string{"lu.ma", "eventbrite.com"},
		MaxResults:     10,
		Days:           30,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://lu.ma/demo" {
		t.Errorf("unexpected results: %+v", results)
	}
	if got.SearchDepth != "advanced" || got.MaxResults != 10 || got.Days != 30 || len(got.IncludeDomains) != 2 {
		t.Errorf("unexpected request body: %+v", got)
	}
}

func TestTavilyClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := NewTavilyClient("bad", srv.URL, srv.Client()).Search(context.Background(), Query{Text: "x"}); err == nil {
		t.Error("expected error for 401")
	}
	if _, err := NewTavilyClient("", srv.URL, srv.Client()).Search(context.Background(), Query{Text: "x"}); err == nil {
		t.Error("expected error without api key")
	}
}

func TestDebugLog_AppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "search_raw_dump.json")
	log := NewDebugLog(path)

	ts := time.Date(2025, 12, 20, 9, 0, 0, 0, time.UTC)
	for _, q := range []string{"first", "second"} {
		if err := log.Append(Record{Query: q, Timestamp: ts, Results: []Result{{Title: q}}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not json: %v", err)
		}
		queries = append(queries, rec.Query)
	}
	if len(queries) != 2 || queries[0] != "first" || queries[1] != "second" {
		t.Errorf("unexpected log contents: %v", queries)
	}
}

func TestDebugLog_Disabled(t *testing.T) {
	var nilLog *DebugLog
	if err := nilLog.Append(Record{Query: "x"}); err != nil {
		t.Errorf("nil log should be a no-op: %v", err)
	}
	if err := NewDebugLog("").Append(Record{Query: "x"}); err != nil {
		t.Errorf("empty path should be a no-op: %v", err)
	}
}
