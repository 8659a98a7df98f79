package database

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nesen/eventagg/internal/models"
)

func TestBuildEventQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildEventQuery(models.EventQuery{Since: &since, Source: "lu_ma", Limit: 5, Offset: 10})

	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d: %v", len(args), args)
	}
	if args[1] != `%lu\_ma%` {
		t.Errorf("expected escaped LIKE pattern, got %v", args[1])
	}
	if args[2] != 5 || args[3] != 10 {
		t.Errorf("unexpected pagination args: %v", args[2:])
	}
	for _, fragment := range []string{"is_active = TRUE", "date >= $1", "source ILIKE $2", "LIMIT $3 OFFSET $4", "ORDER BY date ASC"} {
		if !strings.Contains(query, fragment) {
			t.Errorf("query missing %q:\n%s", fragment, query)
		}
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set - skipping PostgreSQL integration test")
	}

	cfg := DefaultConfig()
	cfg.Driver = DriverPostgres
	cfg.URL = dbURL
	cfg.MigrationsDir = "../../migrations"

	ctx := context.Background()
	store, err := Open(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	defer store.Close()

	id := fmt.Sprintf("it%014d", time.Now().UnixNano()%1e14)
	event := models.Event{
		ID:        id,
		Title:     "Integration Event",
		URL:       "https://example.com/" + id,
		Source:    "Integration",
		Date:      time.Now().UTC().Truncate(time.Second),
		Tags:      []string{"Test"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		IsActive:  true,
	}
	if err := store.Events.Insert(ctx, event); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := store.Events.GetByID(ctx, id)
	if err != nil || got == nil || got.Title != event.Title {
		t.Fatalf("GetByID = %+v, %v", got, err)
	}
	if err := store.Events.Deactivate(ctx, id); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
}
