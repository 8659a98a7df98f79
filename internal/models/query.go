package models

import (
	"fmt"
	"time"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// EventQuery is the read contract of the canonical store: active events in a
// date range, optionally filtered by a source substring, date ascending.
type EventQuery struct {
	Since  *time.Time `json:"since,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
	Source string     `json:"source,omitempty"` // Case-insensitive substring
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Validate checks pagination and range bounds.
func (q *EventQuery) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("limit must be non-negative")
	}
	if q.Limit > MaxQueryLimit {
		return fmt.Errorf("limit cannot exceed %d", MaxQueryLimit)
	}
	if q.Offset < 0 {
		return fmt.Errorf("offset must be non-negative")
	}
	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return fmt.Errorf("until must not be before since")
	}
	return nil
}

// EffectiveLimit returns the limit, substituting the default when unset.
func (q *EventQuery) EffectiveLimit() int {
	if q.Limit == 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}
