package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/models"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type eventHandler struct {
	store  EventStore
	runs   RunLister
	clock  clock.Clock
	logger *slog.Logger
}

// EventsResponse is the body of GET /api/events.
type EventsResponse struct {
	Events []models.Event    `json:"events"`
	Count  int               `json:"count"`
	Query  models.EventQuery `json:"query"`
}

// list handles GET /api/events?since=&until=&source=&limit=&offset=. Without
// since, the listing starts at today's midnight.
func (h *eventHandler) list(w http.ResponseWriter, r *http.Request) {
	query, err := parseEventQuery(r.URL.Query(), h.clock.Now())
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.store.Query(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to get events", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	writeJSON(w, h.logger, http.StatusOK, EventsResponse{Events: events, Count: len(events), Query: query})
}

// listRuns handles GET /api/runs?limit=.
func (h *eventHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, h.logger, http.StatusOK, map[string]any{"runs": []models.IngestionRun{}})
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunsLimit {
			writeError(w, h.logger, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit))
			return
		}
		limit = n
	}

	runs, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
		return
	}
	if runs == nil {
		runs = []models.IngestionRun{}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"runs": runs})
}

func parseEventQuery(values url.Values, now time.Time) (models.EventQuery, error) {
	var query models.EventQuery

	since := clock.Midnight(now)
	if v := values.Get("since"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return query, fmt.Errorf("invalid since: %w", err)
		}
		since = t
	}
	query.Since = &since

	if v := values.Get("until"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return query, fmt.Errorf("invalid until: %w", err)
		}
		query.Until = &t
	}

	query.Source = strings.TrimSpace(values.Get("source"))

	for _, p := range []struct {
		name   string
		target *int
	}{
		{"limit", &query.Limit},
		{"offset", &query.Offset},
	} {
		if v := values.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return query, fmt.Errorf("invalid %s: must be an integer", p.name)
			}
			*p.target = n
		}
	}

	if err := query.Validate(); err != nil {
		return query, err
	}
	return query, nil
}

// parseTimeParam accepts RFC 3339 timestamps and YYYY-MM-DD days (UTC).
func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	return t, nil
}
