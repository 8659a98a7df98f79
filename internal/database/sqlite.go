package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens (creating if needed) a SQLite database with GORM and
// migrates the event and run tables.
func OpenSQLite(ctx context.Context, dsn string, log *slog.Logger) (*gorm.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ensureSQLiteDirectory(dsn); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&eventRow{}, &runRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite db: %w", err)
	}

	log.Info("database opened", "driver", DriverSQLite, "dsn", dsn)
	return db, nil
}

func ensureSQLiteDirectory(dsn string) error {
	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}

	candidate = strings.TrimPrefix(candidate, "file:")
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
