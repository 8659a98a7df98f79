package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// DefaultTelegramURL is the Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// Notifier delivers a formatted message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// TelegramConfig identifies the bot and destination chat.
type TelegramConfig struct {
	BaseURL  string
	Token    string
	ChatID   string
	TopicID  string // Forum thread, optional
	Markdown bool
}

// Telegram sends messages through the Bot API sendMessage method.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig, client *http.Client, logger *slog.Logger) *Telegram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{cfg: cfg, client: client, logger: logger}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	MessageThreadID       int64  `json:"message_thread_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.cfg.Token == "" || t.cfg.ChatID == "" {
		return fmt.Errorf("telegram token and chat id are required")
	}

	payload := sendMessageRequest{
		ChatID:                t.cfg.ChatID,
		Text:                  text,
		DisableWebPagePreview: true,
	}
	if t.cfg.Markdown {
		payload.ParseMode = "Markdown"
	}
	if t.cfg.TopicID != "" {
		id, err := strconv.ParseInt(t.cfg.TopicID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram topic id %q: %w", t.cfg.TopicID, err)
		}
		payload.MessageThreadID = id
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram message: %w", err)
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/bot" + t.cfg.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of the error.
		return fmt.Errorf("telegram request failed: %w", redact(err, t.cfg.Token))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out apiResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, desc)
	}

	t.logger.Info("telegram message sent", "chat_id", t.cfg.ChatID, "chars", len(text))
	return nil
}

// LogNotifier writes messages to the log. It stands in when no chat is
// configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send logs text at info level.
func (n LogNotifier) Send(ctx context.Context, text string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "text", text)
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "<redacted>"), err: err}
}
