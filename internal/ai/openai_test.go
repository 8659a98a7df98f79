package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nesen/eventagg/internal/retry"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "llama3.1-8b",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestOpenAIBackend_Complete(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(`[{"title":"a"}]`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(BackendConfig{
		Name:    "cerebras",
		BaseURL: srv.URL + "/v1",
		APIKey:  "test",
		Model:   "llama3.1-8b",
	}, srv.Client(), testLogger())

	out, err := backend.Complete(context.Background(), Request{Operation: "extract", System: "s", User: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `[{"title":"a"}]` {
		t.Errorf("unexpected content: %s", out)
	}
	if gotModel != "llama3.1-8b" {
		t.Errorf("expected model to be forwarded, got %q", gotModel)
	}
}

func TestOpenAIBackend_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse(`{"ids":[]}`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(BackendConfig{
		Name:    "groq",
		BaseURL: srv.URL + "/v1",
		APIKey:  "test",
		Model:   "llama-3.3-70b-versatile",
		Retry:   retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffFactor: 2},
	}, srv.Client(), testLogger())

	if _, err := backend.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestOpenAIBackend_ServerErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	backend := NewOpenAIBackend(BackendConfig{
		BaseURL: srv.URL + "/v1",
		APIKey:  "test",
		Model:   "nope",
		Retry:   retry.Policy{MaxRetries: 3, InitialBackoff: time.Millisecond, BackoffFactor: 1},
	}, srv.Client(), testLogger())

	if _, err := backend.Complete(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}
