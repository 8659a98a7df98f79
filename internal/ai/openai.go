package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nesen/eventagg/internal/retry"
)

// BackendConfig describes one OpenAI-compatible endpoint.
type BackendConfig struct {
	Name        string
	BaseURL     string // Empty selects api.openai.com
	APIKey      string
	Model       string
	Timeout     time.Duration // Per attempt
	Temperature float32
	MaxTokens   int
	JSONMode    bool
	Retry       retry.Policy
}

// OpenAIBackend calls an OpenAI-compatible chat completions API. Cerebras and
// Groq both expose this interface under their own base URLs.
type OpenAIBackend struct {
	client *openai.Client
	config BackendConfig
	logger *slog.Logger
}

// NewOpenAIBackend creates a backend. A nil httpClient uses a client bounded
// by the configured timeout.
func NewOpenAIBackend(cfg BackendConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Model
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger,
	}
}

// Name returns the configured backend name.
func (b *OpenAIBackend) Name() string {
	return b.config.Name
}

// Complete sends the request, retrying rate-limited attempts with backoff.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = b.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.config.MaxTokens
	}

	request := openai.ChatCompletionRequest{
		Model:       b.config.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if b.config.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	attempt := 0
	err := retry.Do(ctx, b.config.Retry, func(ctx context.Context) error {
		attempt++
		apiCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()

		start := time.Now()
		resp, err := b.client.CreateChatCompletion(apiCtx, request)
		b.logger.Debug("ai call complete",
			"backend", b.config.Name,
			"model", b.config.Model,
			"operation", req.Operation,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
			"success", err == nil,
		)

		if err != nil {
			if isRateLimited(err) {
				b.logger.Warn("ai backend rate limited",
					"backend", b.config.Name,
					"attempt", attempt,
					"error", err,
				)
				return retry.Retryable(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices in response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", b.config.Name, err)
	}
	return content, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "Rate limit")
}
