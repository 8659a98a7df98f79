package models

import "time"

// RunStatus is the final state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running" // Created, not yet finalized
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial" // Some units failed, progress kept
	RunStatusError   RunStatus = "error"
)

// IngestionRun is the audit record of one adapter invocation or discovery cycle.
type IngestionRun struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        RunStatus  `json:"status"`
	EventsFound   int        `json:"events_found"`
	EventsNew     int        `json:"events_new"`
	EventsUpdated int        `json:"events_updated"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Finalized reports whether the run has been closed.
func (r *IngestionRun) Finalized() bool {
	return r.FinishedAt != nil
}
