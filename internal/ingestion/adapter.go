package ingestion

import (
	"context"
	"time"

	"github.com/nesen/eventagg/internal/models"
)

// Adapter is one external event source. Run fetches and parses the source and
// returns whatever drafts it could build. A malformed item is skipped, not
// returned as an error; an error means the source itself could not be read.
// Adapters never write to the store.
type Adapter interface {
	// Name returns the source name stamped on every draft.
	Name() string

	// Run fetches the source and returns its drafts.
	Run(ctx context.Context) ([]models.Draft, error)
}

// AdapterStatus is the coordinator's running view of one adapter.
type AdapterStatus struct {
	Name           string        `json:"name"`
	Healthy        bool          `json:"healthy"`
	LastRun        time.Time     `json:"last_run"`
	LastError      string        `json:"last_error,omitempty"`
	LastFound      int           `json:"last_found"`
	TotalNew       int64         `json:"total_new"`
	TotalErrors    int64         `json:"total_errors"`
	AverageLatency time.Duration `json:"average_latency"`
}

func (s *AdapterStatus) update(result Result) {
	s.LastRun = result.FinishedAt
	s.LastFound = result.Found
	s.TotalNew += int64(result.New)

	if result.Err != nil {
		s.Healthy = false
		s.LastError = result.Err.Error()
		s.TotalErrors++
	} else {
		s.Healthy = true
		s.LastError = ""
	}

	// Simple moving average
	if s.AverageLatency == 0 {
		s.AverageLatency = result.Duration
	} else {
		s.AverageLatency = (s.AverageLatency + result.Duration) / 2
	}
}
