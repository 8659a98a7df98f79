// Package sink mirrors the canonical store into an external NocoDB table.
// Rows are keyed by event URL; a row that fails is logged and skipped.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/models"
	"github.com/nesen/eventagg/internal/normalize"
)

// DefaultBaseURL is the hosted NocoDB v2 API.
const DefaultBaseURL = "https://app.nocodb.com/api/v2"

// ErrTableNotFound is returned when the configured table does not exist in the base.
var ErrTableNotFound = errors.New("nocodb table not found")

// EventLister reads every event from the canonical store.
type EventLister interface {
	ListAll(ctx context.Context) ([]models.Event, error)
}

// Config identifies the NocoDB table.
type Config struct {
	BaseURL          string
	Token            string
	BaseID           string
	TableName        string
	DescriptionChars int
}

// Result counts rows by outcome.
type Result struct {
	Created int
	Updated int
	Failed  int
}

// NocoDB mirrors events into a NocoDB table.
type NocoDB struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewNocoDB creates a NocoDB sink.
func NewNocoDB(cfg Config, client *http.Client, logger *slog.Logger) *NocoDB {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DescriptionChars <= 0 {
		cfg.DescriptionChars = 500
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NocoDB{cfg: cfg, client: client, logger: logger.With("component", "sink")}
}

// SyncStore reads the full store and mirrors it.
func (n *NocoDB) SyncStore(ctx context.Context, store EventLister) (Result, error) {
	events, err := store.ListAll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list events: %w", err)
	}
	return n.Sync(ctx, events)
}

// Sync creates or updates one row per event. It fails only when the table
// cannot be resolved; per-row failures are counted.
func (n *NocoDB) Sync(ctx context.Context, events []models.Event) (Result, error) {
	var result Result
	if n.cfg.Token == "" || n.cfg.BaseID == "" || n.cfg.TableName == "" {
		return result, fmt.Errorf("nocodb token, base id and table name are required")
	}
	if len(events) == 0 {
		n.logger.Info("no events to sync")
		return result, nil
	}

	tableID, err := n.tableID(ctx)
	if err != nil {
		return result, err
	}
	n.logger.Info("syncing events", "count", len(events), "table_id", tableID)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		created, err := n.upsert(ctx, tableID, ev)
		switch {
		case err != nil:
			result.Failed++
			n.logger.Warn("failed to sync event", "url", ev.URL, "title", ev.Title, "error", err)
		case created:
			result.Created++
		default:
			result.Updated++
		}
	}

	n.logger.Info("sync complete",
		"created", result.Created,
		"updated", result.Updated,
		"failed", result.Failed,
	)
	return result, nil
}

func (n *NocoDB) tableID(ctx context.Context) (string, error) {
	var out struct {
		List []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list"`
	}
	path := "/meta/bases/" + url.PathEscape(n.cfg.BaseID) + "/tables"
	if err := n.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return "", fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range out.List {
		if t.Title == n.cfg.TableName {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q in base %q", ErrTableNotFound, n.cfg.TableName, n.cfg.BaseID)
}

// upsert updates the row with the event's URL, or creates one.
func (n *NocoDB) upsert(ctx context.Context, tableID string, ev models.Event) (bool, error) {
	records := "/tables/" + url.PathEscape(tableID) + "/records"

	rowID, err := n.findByURL(ctx, records, ev.URL)
	if err != nil {
		return false, err
	}

	fields := n.row(ev)
	if rowID == nil {
		return true, n.do(ctx, http.MethodPost, records, nil, fields, nil)
	}

	fields["Id"] = rowID
	return false, n.do(ctx, http.MethodPatch, records, nil, fields, nil)
}

func (n *NocoDB) findByURL(ctx context.Context, records, eventURL string) (any, error) {
	var out struct {
		List []map[string]any `json:"list"`
	}
	q := url.Values{}
	q.Set("where", "(URL,eq,"+eventURL+")")
	q.Set("limit", "1")
	if err := n.do(ctx, http.MethodGet, records, q, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to look up row: %w", err)
	}
	if len(out.List) == 0 {
		return nil, nil
	}
	row := out.List[0]
	if id, ok := row["Id"]; ok {
		return id, nil
	}
	if id, ok := row["id"]; ok {
		return id, nil
	}
	return nil, fmt.Errorf("row for %s has no id", eventURL)
}

// row maps an event onto the mirrored columns.
func (n *NocoDB) row(ev models.Event) map[string]any {
	return map[string]any{
		"Title":       ev.Title,
		"Description": normalize.Truncate(ev.Description, n.cfg.DescriptionChars),
		"Date":        ev.Date.UTC().Format(time.DateOnly),
		"Location":    ev.Location,
		"URL":         ev.URL,
		"Source":      ev.Source,
		"Tags":        strings.Join(ev.Tags, ", "),
	}
}

func (n *NocoDB) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := n.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xc-token", n.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("nocodb returned status %d: %s", resp.StatusCode, normalize.Truncate(strings.TrimSpace(string(data)), 200))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
