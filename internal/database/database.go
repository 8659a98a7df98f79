package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/nesen/eventagg/internal/cloudsql"
	"github.com/nesen/eventagg/internal/ingestion"
)

// Drivers supported by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection configuration.
type Config struct {
	Driver             string // postgres or sqlite
	URL                string // Postgres DSN or SQLite file path
	MigrationsDir      string // Postgres only; SQLite uses AutoMigrate
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnectTimeout     time.Duration
}

// DefaultConfig returns sensible defaults for database configuration.
func DefaultConfig() Config {
	return Config{
		Driver:             DriverSQLite,
		URL:                "data/events.db",
		MigrationsDir:      "migrations",
		MaxConnections:     10,
		MaxIdleConnections: 10,
		ConnMaxLifetime:    5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
	}
}

// Store bundles the canonical store repositories of one backend.
type Store struct {
	Driver string
	Events ingestion.EventRepository
	Runs   ingestion.RunRepository
	db     *sql.DB
	close  func() error
}

// HealthCheck verifies the backend is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return HealthCheck(ctx, s.db)
}

// Stats returns connection pool statistics.
func (s *Store) Stats() map[string]interface{} {
	return Stats(s.db)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.close()
}

// Open connects to the configured backend and makes sure its schema exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "postgresql":
		db, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database opened", "driver", DriverPostgres, "dsn", cloudsql.Redact(cfg.URL))
		return &Store{
			Driver: DriverPostgres,
			Events: NewPostgresEventRepository(db),
			Runs:   NewPostgresRunRepository(db),
			db:     db,
			close:  db.Close,
		}, nil

	case DriverSQLite, "sqlite3", "":
		gdb, err := OpenSQLite(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql db: %w", err)
		}
		return &Store{
			Driver: DriverSQLite,
			Events: NewSQLiteEventRepository(gdb),
			Runs:   NewSQLiteRunRepository(gdb),
			db:     sqlDB,
			close:  sqlDB.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Open database connection
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// HealthCheck performs a database health check.
func HealthCheck(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Simple query to check database responsiveness
	var result int
	err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("unexpected health check result: %d", result)
	}

	return nil
}

// Stats returns database statistics.
func Stats(db *sql.DB) map[string]interface{} {
	stats := db.Stats()
	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}
