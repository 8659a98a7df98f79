package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
)

// SQLiteEventRepository implements ingestion.EventRepository on SQLite via GORM.
// It is the default local store.
type SQLiteEventRepository struct {
	db *gorm.DB
}

// NewSQLiteEventRepository creates a new SQLite event repository.
func NewSQLiteEventRepository(db *gorm.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// Insert stores a new event. An existing id is reported as a persistence conflict.
func (r *SQLiteEventRepository) Insert(ctx context.Context, event models.Event) error {
	row := toEventRow(event)
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to insert event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("event %s: %w", event.ID, ingestion.ErrPersistenceConflict)
	}
	return nil
}

// Update replaces every mutable column of an existing event.
func (r *SQLiteEventRepository) Update(ctx context.Context, event models.Event) error {
	row := toEventRow(event)
	result := r.db.WithContext(ctx).
		Model(&eventRow{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"title":       row.Title,
			"description": row.Description,
			"location":    row.Location,
			"url":         row.URL,
			"source":      row.Source,
			"image_url":   row.ImageURL,
			"date":        row.Date,
			"end_date":    row.EndDate,
			"tags":        row.Tags,
			"updated_at":  row.UpdatedAt,
			"is_active":   row.IsActive,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrEventNotFound, event.ID)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *SQLiteEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	event := row.toModel()
	return &event, nil
}

// GetByURL retrieves the oldest event stored under a URL.
func (r *SQLiteEventRepository) GetByURL(ctx context.Context, url string) (*models.Event, error) {
	var row eventRow
	err := r.db.WithContext(ctx).Where("url = ?", url).Order("created_at asc").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by url: %w", err)
	}
	event := row.toModel()
	return &event, nil
}

// Query retrieves active events matching the query, date ascending.
func (r *SQLiteEventRepository) Query(ctx context.Context, query models.EventQuery) ([]models.Event, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).Model(&eventRow{}).Where("is_active = ?", true)
	if query.Since != nil {
		q = q.Where("date >= ?", query.Since.UTC())
	}
	if query.Until != nil {
		q = q.Where("date <= ?", query.Until.UTC())
	}
	if query.Source != "" {
		q = q.Where(`LOWER(source) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(query.Source))+"%")
	}

	var rows []eventRow
	if err := q.Order("date asc").Order("id asc").
		Limit(query.EffectiveLimit()).
		Offset(query.Offset).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return toEvents(rows), nil
}

// ListAll returns every active event.
func (r *SQLiteEventRepository) ListAll(ctx context.Context) ([]models.Event, error) {
	var rows []eventRow
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("date asc").Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return toEvents(rows), nil
}

// Count returns the number of active events.
func (r *SQLiteEventRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&eventRow{}).Where("is_active = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(n), nil
}

// Deactivate soft-deletes an event.
func (r *SQLiteEventRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&eventRow{}).Where("id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrEventNotFound, id)
	}
	return nil
}

func toEvents(rows []eventRow) []models.Event {
	events := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events
}
