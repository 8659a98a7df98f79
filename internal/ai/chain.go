package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Chain tries backends in order until one returns a usable response.
type Chain struct {
	backends []Backend
	logger   *slog.Logger
	observer CallObserver
}

// NewChain creates a fallback chain over backends, primary first.
func NewChain(logger *slog.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{backends: backends, logger: logger}
}

// SetObserver attaches an observer notified after every backend call.
func (c *Chain) SetObserver(o CallObserver) {
	c.observer = o
}

// Len returns the number of configured backends.
func (c *Chain) Len() int {
	return len(c.backends)
}

// Complete returns the first successful raw completion.
func (c *Chain) Complete(ctx context.Context, req Request) (string, error) {
	var out string
	err := c.try(ctx, req, func(raw string) error {
		out = raw
		return nil
	})
	return out, err
}

// Records returns the first response that unwraps into a list of records.
// A malformed response moves on to the next backend.
func (c *Chain) Records(ctx context.Context, req Request) ([]json.RawMessage, error) {
	var records []json.RawMessage
	err := c.try(ctx, req, func(raw string) error {
		var err error
		records, err = UnwrapRecords(raw)
		return err
	})
	return records, err
}

// Object decodes the first response that parses into v.
func (c *Chain) Object(ctx context.Context, req Request, v any) error {
	return c.try(ctx, req, func(raw string) error {
		return DecodeObject(raw, v)
	})
}

// IDs returns the first response that yields a list of ids.
func (c *Chain) IDs(ctx context.Context, req Request) ([]string, error) {
	var ids []string
	err := c.try(ctx, req, func(raw string) error {
		var err error
		ids, err = ExtractIDs(raw)
		return err
	})
	return ids, err
}

func (c *Chain) try(ctx context.Context, req Request, accept func(raw string) error) error {
	if len(c.backends) == 0 {
		return fmt.Errorf("%w: no backends configured", ErrBackendUnavailable)
	}

	var errs []error
	for i, backend := range c.backends {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		raw, err := backend.Complete(ctx, req)
		if err == nil {
			err = accept(raw)
		}
		if c.observer != nil {
			c.observer.ObserveCall(backend.Name(), req.Operation, err, time.Since(start))
		}
		if err == nil {
			if i > 0 {
				c.logger.Info("ai fallback backend succeeded", "backend", backend.Name(), "operation", req.Operation)
			}
			return nil
		}

		c.logger.Warn("ai backend failed",
			"backend", backend.Name(),
			"operation", req.Operation,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	return fmt.Errorf("%w: %w", ErrBackendUnavailable, errors.Join(errs...))
}
