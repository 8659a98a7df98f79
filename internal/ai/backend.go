// Package ai wraps text-generation backends behind an ordered fallback chain
// and a shared response-unwrapping utility.
package ai

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable means every configured backend failed for one call.
var ErrBackendUnavailable = errors.New("all ai backends unavailable")

// ErrUnexpectedShape is returned when a response cannot be read as records.
var ErrUnexpectedShape = errors.New("unexpected ai response shape")

// Request is one schema-constrained completion.
type Request struct {
	Operation   string // extract, verify, curate; used for logs and metrics
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Backend produces a JSON completion for a request.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Complete returns the raw completion text.
	Complete(ctx context.Context, req Request) (string, error)
}

// CallObserver receives the outcome of every backend call.
type CallObserver interface {
	ObserveCall(backend, operation string, err error, duration time.Duration)
}
