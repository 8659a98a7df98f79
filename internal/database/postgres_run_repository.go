package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
)

// PostgresRunRepository implements ingestion.RunRepository using PostgreSQL.
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgreSQL run repository.
func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

// Start records a run at its beginning.
func (r *PostgresRunRepository) Start(ctx context.Context, run models.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (id, source, started_at, status)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, run.ID, run.Source, run.StartedAt.UTC(), run.Status); err != nil {
		return fmt.Errorf("failed to insert ingestion run: %w", err)
	}
	return nil
}

// Finish finalizes a run. The WHERE clause guarantees a run is finalized once.
func (r *PostgresRunRepository) Finish(ctx context.Context, run models.IngestionRun) error {
	if run.FinishedAt == nil {
		return fmt.Errorf("finish run %s: finished_at is required", run.ID)
	}

	query := `
		UPDATE ingestion_runs SET
			finished_at = $2, status = $3, events_found = $4,
			events_new = $5, events_updated = $6, error_message = $7
		WHERE id = $1 AND finished_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.FinishedAt.UTC(),
		run.Status,
		run.EventsFound,
		run.EventsNew,
		run.EventsUpdated,
		nullString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize ingestion run: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, ingestion.ErrRunFinalized)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (r *PostgresRunRepository) Recent(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, source, started_at, finished_at, status,
		       events_found, events_new, events_updated, error_message
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.IngestionRun, 0)
	for rows.Next() {
		var run models.IngestionRun
		var finishedAt sql.NullTime
		var errorMessage sql.NullString

		if err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.StartedAt,
			&finishedAt,
			&run.Status,
			&run.EventsFound,
			&run.EventsNew,
			&run.EventsUpdated,
			&errorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion run: %w", err)
		}

		run.StartedAt = run.StartedAt.UTC()
		if finishedAt.Valid {
			t := finishedAt.Time.UTC()
			run.FinishedAt = &t
		}
		run.ErrorMessage = errorMessage.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingestion runs: %w", err)
	}
	return runs, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
