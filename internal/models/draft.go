package models

import (
	"strings"
	"time"
)

// Draft is an unpersisted event produced by a source adapter or the discovery
// pipeline. It is consumed by the merge engine and then discarded.
type Draft struct {
	Title       string
	Description string
	Location    string
	URL         string
	Source      string
	ImageURL    string
	Date        time.Time
	EndDate     *time.Time
	Tags        []string

	// IdentityByURL marks drafts whose title and date are not trustworthy
	// identity keys (AI-derived). Their identity is the URL instead.
	IdentityByURL bool
}

// Validate checks the fields every draft must carry.
func (d *Draft) Validate() error {
	switch {
	case strings.TrimSpace(d.Title) == "":
		return ErrMissingTitle
	case strings.TrimSpace(d.URL) == "":
		return ErrMissingURL
	case strings.TrimSpace(d.Source) == "":
		return ErrMissingSource
	case d.Date.IsZero():
		return ErrMissingDate
	}
	return nil
}

// AddTags merges labels into the draft's tag set, keeping first-seen order.
func (d *Draft) AddTags(tags ...string) {
	seen := make(map[string]bool, len(d.Tags)+len(tags))
	for _, t := range d.Tags {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		d.Tags = append(d.Tags, t)
	}
}
