package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/nesen/eventagg/internal/ingestion"
	"github.com/nesen/eventagg/internal/models"
)

const eventColumns = `id, title, description, location, url, source, image_url,
	date, end_date, tags, created_at, updated_at, is_active`

// PostgresEventRepository implements ingestion.EventRepository using PostgreSQL.
type PostgresEventRepository struct {
	db *sql.DB
}

// NewPostgresEventRepository creates a new PostgreSQL event repository.
func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

// Insert stores a new event. An existing id is reported as a persistence conflict.
func (r *PostgresEventRepository) Insert(ctx context.Context, event models.Event) error {
	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Title,
		event.Description,
		event.Location,
		event.URL,
		event.Source,
		event.ImageURL,
		event.Date.UTC(),
		nullTime(event.EndDate),
		pq.Array(event.Tags),
		event.CreatedAt.UTC(),
		event.UpdatedAt.UTC(),
		event.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("event %s: %w", event.ID, ingestion.ErrPersistenceConflict)
	}
	return nil
}

// Update replaces every mutable column of an existing event.
func (r *PostgresEventRepository) Update(ctx context.Context, event models.Event) error {
	query := `
		UPDATE events SET
			title = $2, description = $3, location = $4, url = $5, source = $6,
			image_url = $7, date = $8, end_date = $9, tags = $10,
			updated_at = $11, is_active = $12
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.Title,
		event.Description,
		event.Location,
		event.URL,
		event.Source,
		event.ImageURL,
		event.Date.UTC(),
		nullTime(event.EndDate),
		pq.Array(event.Tags),
		event.UpdatedAt.UTC(),
		event.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrEventNotFound, event.ID)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *PostgresEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// GetByURL retrieves the oldest event stored under a URL.
func (r *PostgresEventRepository) GetByURL(ctx context.Context, url string) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE url = $1 ORDER BY created_at ASC LIMIT 1`, url)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by url: %w", err)
	}
	return event, nil
}

// Query retrieves active events matching the query, date ascending.
func (r *PostgresEventRepository) Query(ctx context.Context, query models.EventQuery) ([]models.Event, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	sqlQuery, args := buildEventQuery(query)
	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListAll returns every active event.
func (r *PostgresEventRepository) ListAll(ctx context.Context) ([]models.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE is_active = TRUE ORDER BY date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Count returns the number of active events.
func (r *PostgresEventRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE is_active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Deactivate soft-deletes an event.
func (r *PostgresEventRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE events SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate event: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrEventNotFound, id)
	}
	return nil
}

// buildEventQuery constructs the SQL query from EventQuery.
func buildEventQuery(q models.EventQuery) (string, []interface{}) {
	args := []interface{}{}
	argIdx := 1
	conditions := []string{"is_active = TRUE"}

	if q.Since != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", argIdx))
		args = append(args, q.Since.UTC())
		argIdx++
	}
	if q.Until != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", argIdx))
		args = append(args, q.Until.UTC())
		argIdx++
	}
	if q.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source ILIKE $%d", argIdx))
		args = append(args, "%"+escapeLike(q.Source)+"%")
		argIdx++
	}

	args = append(args, q.EffectiveLimit(), q.Offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE %s
		ORDER BY date ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, eventColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1)

	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var event models.Event
	var endDate sql.NullTime
	var tags pq.StringArray

	err := row.Scan(
		&event.ID,
		&event.Title,
		&event.Description,
		&event.Location,
		&event.URL,
		&event.Source,
		&event.ImageURL,
		&event.Date,
		&endDate,
		&tags,
		&event.CreatedAt,
		&event.UpdatedAt,
		&event.IsActive,
	)
	if err != nil {
		return nil, err
	}

	event.Date = event.Date.UTC()
	event.CreatedAt = event.CreatedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()
	if endDate.Valid {
		t := endDate.Time.UTC()
		event.EndDate = &t
	}
	event.Tags = []string(tags)
	if event.Tags == nil {
		event.Tags = []string{}
	}
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	events := make([]models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
