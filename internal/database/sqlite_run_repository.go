package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
)

// SQLiteRunRepository implements ingestion.RunRepository on SQLite via GORM.
type SQLiteRunRepository struct {
	db *gorm.DB
}

// NewSQLiteRunRepository creates a new SQLite run repository.
func NewSQLiteRunRepository(db *gorm.DB) *SQLiteRunRepository {
	return &SQLiteRunRepository{db: db}
}

// Start records a run at its beginning.
func (r *SQLiteRunRepository) Start(ctx context.Context, run models.IngestionRun) error {
	row := runRow{
		ID:        run.ID,
		Source:    run.Source,
		StartedAt: run.StartedAt.UTC(),
		Status:    string(run.Status),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert ingestion run: %w", err)
	}
	return nil
}

// Finish finalizes a run once.
func (r *SQLiteRunRepository) Finish(ctx context.Context, run models.IngestionRun) error {
	if run.FinishedAt == nil {
		return fmt.Errorf("finish run %s: finished_at is required", run.ID)
	}

	result := r.db.WithContext(ctx).
		Model(&runRow{}).
		Where("id = ? AND finished_at IS NULL", run.ID).
		Updates(map[string]any{
			"finished_at":    run.FinishedAt.UTC(),
			"status":         string(run.Status),
			"events_found":   run.EventsFound,
			"events_new":     run.EventsNew,
			"events_updated": run.EventsUpdated,
			"error_message":  run.ErrorMessage,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to finalize ingestion run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ingestion.ErrRunFinalized)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (r *SQLiteRunRepository) Recent(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []runRow
	if err := r.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query ingestion runs: %w", err)
	}

	runs := make([]models.IngestionRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toModel())
	}
	return runs, nil
}
