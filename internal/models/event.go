package models

import "time"

// Event is the canonical, deduplicated record of a real-world event listing.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	ImageURL    string     `json:"image_url,omitempty"`
	Date        time.Time  `json:"date"` // Event start, UTC
	EndDate     *time.Time `json:"end_date,omitempty"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	IsActive    bool       `json:"is_active"`
}
