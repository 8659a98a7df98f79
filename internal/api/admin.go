package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nesen/eventagg/internal/auth"
	"github.com/nesen/eventagg/internal/ingestion"
)

// adminRunTimeout bounds a run started over HTTP.
const adminRunTimeout = 30 * time.Minute

type adminHandler struct {
	store    EventStore
	runner   Runner
	onReport func(ingestion.Report)
	logger   *slog.Logger

	inFlight atomic.Bool
}

func newAdminHandler(store EventStore, runner Runner, onReport func(ingestion.Report), logger *slog.Logger) *adminHandler {
	return &adminHandler{store: store, runner: runner, onReport: onReport, logger: logger}
}

// RunSummary is the body returned by a synchronous admin run.
type RunSummary struct {
	Success  int `json:"success"`
	Empty    int `json:"empty"`
	Failed   int `json:"failed"`
	TotalNew int `json:"total_new"`
}

// triggerRun handles POST /api/admin/runs. By default the run continues in
// the background and 202 is returned; ?wait=true blocks and returns counts.
func (h *adminHandler) triggerRun(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "runs are not configured")
		return
	}
	if !h.inFlight.CompareAndSwap(false, true) {
		writeError(w, h.logger, http.StatusConflict, ingestion.ErrRunInProgress.Error())
		return
	}

	subject, _ := auth.SubjectFromContext(r.Context())
	h.logger.Info("admin run triggered", "subject", subject)

	if r.URL.Query().Get("wait") == "true" {
		defer h.inFlight.Store(false)
		// The server write timeout is sized for reads, not for a full run.
		if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(adminRunTimeout + time.Minute)); err != nil {
			h.logger.Debug("cannot extend write deadline", "error", err)
		}
		ctx, cancel := context.WithTimeout(r.Context(), adminRunTimeout)
		defer cancel()
		report, err := h.run(ctx)
		if errors.Is(err, ingestion.ErrRunInProgress) {
			writeError(w, h.logger, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			writeError(w, h.logger, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, h.logger, http.StatusOK, RunSummary{
			Success:  len(report.Success),
			Empty:    len(report.Empty),
			Failed:   len(report.Failed),
			TotalNew: report.TotalNew,
		})
		return
	}

	go func() {
		defer h.inFlight.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), adminRunTimeout)
		defer cancel()
		if _, err := h.run(ctx); err != nil {
			h.logger.Warn("admin run failed", "error", err)
		}
	}()
	writeJSON(w, h.logger, http.StatusAccepted, map[string]string{"status": "started"})
}

// SourcesResponse is the body of GET /api/sources.
type SourcesResponse struct {
	Scheduled bool                      `json:"scheduled"`
	Sources   []ingestion.AdapterStatus `json:"sources"`
}

// sources handles GET /api/sources: the health of every source as seen by
// this process since it started.
func (h *adminHandler) sources(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "runs are not configured")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, SourcesResponse{
		Scheduled: h.runner.IsRunning(),
		Sources:   h.runner.Statuses(),
	})
}

func (h *adminHandler) run(ctx context.Context) (ingestion.Report, error) {
	report, err := h.runner.RunAll(ctx)
	if err != nil {
		return report, err
	}
	if h.onReport != nil {
		h.onReport(report)
	}
	return report, nil
}

// deactivate handles DELETE /api/admin/events/{id}. Events are soft-deleted
// and disappear from every query.
func (h *adminHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, h.logger, http.StatusBadRequest, "event id required")
		return
	}

	err := h.store.Deactivate(r.Context(), id)
	switch {
	case errors.Is(err, ingestion.ErrEventNotFound):
		writeError(w, h.logger, http.StatusNotFound, "event not found")
	case err != nil:
		h.logger.Error("failed to deactivate event", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error")
	default:
		h.logger.Info("event deactivated", "id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}
