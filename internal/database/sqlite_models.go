package database

import (
	"encoding/json"
	"time"

	"github.com/nesen/eventagg/internal/models"
)

type eventRow struct {
	ID          string     `gorm:"column:id;type:text;primaryKey"`
	Title       string     `gorm:"column:title;type:text;not null"`
	Description string     `gorm:"column:description;type:text;not null;default:''"`
	Location    string     `gorm:"column:location;type:text;not null;default:''"`
	URL         string     `gorm:"column:url;type:text;not null;index"`
	Source      string     `gorm:"column:source;type:text;not null;index"`
	ImageURL    string     `gorm:"column:image_url;type:text;not null;default:''"`
	Date        time.Time  `gorm:"column:date;not null;index:idx_events_active_date,priority:2"`
	EndDate     *time.Time `gorm:"column:end_date"`
	Tags        string     `gorm:"column:tags;type:text;not null"` // JSON array
	CreatedAt   time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;autoUpdateTime:false"`
	IsActive    bool       `gorm:"column:is_active;not null;index:idx_events_active_date,priority:1"`
}

func (eventRow) TableName() string {
	return "events"
}

func toEventRow(e models.Event) eventRow {
	row := eventRow{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		URL:         e.URL,
		Source:      e.Source,
		ImageURL:    e.ImageURL,
		Date:        e.Date.UTC(),
		Tags:        encodeTags(e.Tags),
		CreatedAt:   e.CreatedAt.UTC(),
		UpdatedAt:   e.UpdatedAt.UTC(),
		IsActive:    e.IsActive,
	}
	if e.EndDate != nil {
		end := e.EndDate.UTC()
		row.EndDate = &end
	}
	return row
}

func (r eventRow) toModel() models.Event {
	e := models.Event{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		URL:         r.URL,
		Source:      r.Source,
		ImageURL:    r.ImageURL,
		Date:        r.Date.UTC(),
		Tags:        decodeTags(r.Tags),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		IsActive:    r.IsActive,
	}
	if r.EndDate != nil {
		end := r.EndDate.UTC()
		e.EndDate = &end
	}
	return e
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(raw string) []string {
	tags := []string{}
	if raw == "" {
		return tags
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

type runRow struct {
	ID            string     `gorm:"column:id;type:text;primaryKey"`
	Source        string     `gorm:"column:source;type:text;not null;index"`
	StartedAt     time.Time  `gorm:"column:started_at;not null;index"`
	FinishedAt    *time.Time `gorm:"column:finished_at"`
	Status        string     `gorm:"column:status;type:text;not null"`
	EventsFound   int        `gorm:"column:events_found;not null;default:0"`
	EventsNew     int        `gorm:"column:events_new;not null;default:0"`
	EventsUpdated int        `gorm:"column:events_updated;not null;default:0"`
	ErrorMessage  string     `gorm:"column:error_message;type:text"`
}

func (runRow) TableName() string {
	return "ingestion_runs"
}

func (r runRow) toModel() models.IngestionRun {
	run := models.IngestionRun{
		ID:            r.ID,
		Source:        r.Source,
		StartedAt:     r.StartedAt.UTC(),
		Status:        models.RunStatus(r.Status),
		EventsFound:   r.EventsFound,
		EventsNew:     r.EventsNew,
		EventsUpdated: r.EventsUpdated,
		ErrorMessage:  r.ErrorMessage,
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.UTC()
		run.FinishedAt = &t
	}
	return run
}
