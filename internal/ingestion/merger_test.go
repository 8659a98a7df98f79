package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// steppingClock advances by one minute on every call.
func steppingClock(start time.Time) clock.Clock {
	var mu sync.Mutex
	now := start
	return clock.Func(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	})
}

func mixerDraft(description string) models.Draft {
	return models.Draft{
		Title:       "AI Founders Mixer",
		Description: description,
		URL:         "https://lu.ma/ai-founders-mixer",
		Source:      "Luma",
		Date:        time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC),
		Tags:        []string{"AI", "Startup"},
	}
}

func TestMerger_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	merger := NewMerger(repo, steppingClock(time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)), testLogger())

	draft := mixerDraft("Meet founders")

	outcome, err := merger.Upsert(ctx, draft)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}

	first, _ := repo.GetByID(ctx, DraftID(draft))
	if first == nil {
		t.Fatal("event not stored")
	}

	var lastUpdated time.Time
	for i := 0; i < 3; i++ {
		outcome, err := merger.Upsert(ctx, draft)
		if err != nil {
			t.Fatalf("repeat upsert %d: %v", i, err)
		}
		if outcome != OutcomeUpdated {
			t.Errorf("repeat upsert %d: expected updated, got %s", i, outcome)
		}
		got, _ := repo.GetByID(ctx, first.ID)
		if !got.UpdatedAt.After(lastUpdated) {
			t.Errorf("updated_at did not advance on repeat %d", i)
		}
		lastUpdated = got.UpdatedAt
	}

	if repo.Size() != 1 {
		t.Fatalf("expected exactly 1 event, got %d", repo.Size())
	}

	final, _ := repo.GetByID(ctx, first.ID)
	if !final.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", first.CreatedAt, final.CreatedAt)
	}
	if !final.IsActive {
		t.Error("event should remain active")
	}
}

func TestMerger_UpdatedAtAdvancesAtStoreResolution(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	frozen := time.Date(2025, 12, 20, 9, 30, 0, 123456789, time.UTC)
	merger := NewMerger(repo, clock.Fixed(frozen), testLogger())

	draft := mixerDraft("Meet founders")
	if _, err := merger.Upsert(ctx, draft); err != nil {
		t.Fatalf("insert: %v", err)
	}
	prev, _ := repo.GetByID(ctx, DraftID(draft))

	for i := 0; i < 3; i++ {
		if _, err := merger.Upsert(ctx, draft); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		got, _ := repo.GetByID(ctx, prev.ID)
		if !got.UpdatedAt.Equal(got.UpdatedAt.Truncate(time.Microsecond)) {
			t.Errorf("updated_at %v finer than a microsecond", got.UpdatedAt)
		}
		if want := prev.UpdatedAt.Add(time.Microsecond); !got.UpdatedAt.Equal(want) {
			t.Errorf("upsert %d: updated_at = %v, want %v", i, got.UpdatedAt, want)
		}
		prev = got
	}
}

func TestMerger_EndToEndTwoRuns(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	merger := NewMerger(repo, steppingClock(time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)), testLogger())

	adapter := &fakeAdapter{name: "Luma", drafts: []models.Draft{mixerDraft("Meet founders")}}
	coord := NewCoordinator([]Adapter{adapter}, merger, NewMemoryRunRepository(), nil, testLogger(), CoordinatorConfig{})

	if _, err := coord.RunAll(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	events, _ := repo.ListAll(ctx)
	if len(events) != 1 {
		t.Fatalf("expected 1 event after first run, got %d", len(events))
	}
	firstUpdated := events[0].UpdatedAt

	adapter.drafts = []models.Draft{mixerDraft("Meet founders and investors")}
	if _, err := coord.RunAll(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	events, _ = repo.ListAll(ctx)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event after second run, got %d", len(events))
	}
	if events[0].Description != "Meet founders and investors" {
		t.Errorf("expected second run's description, got %q", events[0].Description)
	}
	if !events[0].UpdatedAt.After(firstUpdated) {
		t.Errorf("updated_at did not advance: %v -> %v", firstUpdated, events[0].UpdatedAt)
	}
}

func TestMerger_OverwritesFields(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	merger := NewMerger(repo, steppingClock(time.Now()), testLogger())

	draft := mixerDraft("v1")
	draft.Location = "Cambridge"
	if _, err := merger.Upsert(ctx, draft); err != nil {
		t.Fatal(err)
	}

	draft.Description = "v2"
	draft.Location = ""
	draft.Tags = []string{"Networking"}
	if _, err := merger.Upsert(ctx, draft); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(ctx, DraftID(draft))
	if got.Description != "v2" || got.Location != "" {
		t.Errorf("fields not overwritten: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "Networking" {
		t.Errorf("tags not overwritten: %v", got.Tags)
	}
}

func TestMerger_KeepsDeactivation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	merger := NewMerger(repo, steppingClock(time.Now()), testLogger())

	draft := mixerDraft("v1")
	if _, err := merger.Upsert(ctx, draft); err != nil {
		t.Fatal(err)
	}
	if err := repo.Deactivate(ctx, DraftID(draft)); err != nil {
		t.Fatal(err)
	}
	if _, err := merger.Upsert(ctx, draft); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(ctx, DraftID(draft))
	if got.IsActive {
		t.Error("re-ingesting should not reactivate a soft-deleted event")
	}
}

func TestMerger_IdentityByURL(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	merger := NewMerger(repo, steppingClock(time.Now()), testLogger())

	scraped := mixerDraft("from calendar")
	if _, err := merger.Upsert(ctx, scraped); err != nil {
		t.Fatal(err)
	}

	discovered := models.Draft{
		Title:         "AI Founders Mixer (Boston)",
		URL:           scraped.URL,
		Source:        "Web Search",
		Date:          time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		IdentityByURL: true,
	}
	outcome, err := merger.Upsert(ctx, discovered)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("expected skipped for known url, got %s", outcome)
	}

	discovered.URL = "https://example.org/new-event"
	outcome, err = merger.Upsert(ctx, discovered)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeInserted {
		t.Errorf("expected inserted for new url, got %s", outcome)
	}
	if repo.Size() != 2 {
		t.Errorf("expected 2 events, got %d", repo.Size())
	}
}

func TestMerger_RejectsIncompleteDraft(t *testing.T) {
	merger := NewMerger(NewMemoryEventRepository(), nil, testLogger())

	tests := []struct {
		name  string
		draft models.Draft
		want  error
	}{
		{"no title", models.Draft{URL: "https://x", Source: "s", Date: time.Now()}, models.ErrMissingTitle},
		{"no url", models.Draft{Title: "t", Source: "s", Date: time.Now()}, models.ErrMissingURL},
		{"no date", models.Draft{Title: "t", URL: "https://x", Source: "s"}, models.ErrMissingDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := merger.Upsert(context.Background(), tt.draft)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrParseFailure) {
				t.Errorf("expected parse failure kind, got %v", err)
			}
		})
	}
}

func TestMerger_ConcurrentSameID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEventRepository()
	merger := NewMerger(repo, steppingClock(time.Now()), testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := merger.Upsert(ctx, mixerDraft("same")); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	if repo.Size() != 1 {
		t.Errorf("expected 1 event, got %d", repo.Size())
	}
}

func TestMerger_UpsertAllCounts(t *testing.T) {
	ctx := context.Background()
	merger := NewMerger(NewMemoryEventRepository(), steppingClock(time.Now()), testLogger())

	other := mixerDraft("x")
	other.Title = "Biotech Breakfast"

	counts := merger.UpsertAll(ctx, []models.Draft{
		mixerDraft("a"),
		mixerDraft("b"),
		other,
		{Title: "broken"},
	})

	if counts.Found != 4 || counts.New != 2 || counts.Updated != 1 || counts.Failed != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}
