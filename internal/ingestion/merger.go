package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nesen/eventagg/internal/clock"
	"github.com/nesen/eventagg/internal/models"
)

// Outcome is the result of applying one draft to the canonical store.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
)

// Merger is the single write path into the canonical store. Upserts for the
// same id are serialized; distinct ids proceed independently.
type Merger struct {
	repo   EventRepository
	clock  clock.Clock
	logger *slog.Logger
	locks  *keyedMutex
}

// NewMerger creates a merger over repo.
func NewMerger(repo EventRepository, c clock.Clock, logger *slog.Logger) *Merger {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		repo:   repo,
		clock:  c,
		logger: logger,
		locks:  newKeyedMutex(),
	}
}

// timestampResolution is the finest step a store keeps for created_at and
// updated_at (Postgres timestamptz).
const timestampResolution = time.Microsecond

// Upsert inserts the draft as a new event or overwrites the existing one with
// the same identity. Everything but id and created_at is replaced.
func (m *Merger) Upsert(ctx context.Context, draft models.Draft) (Outcome, error) {
	if err := draft.Validate(); err != nil {
		return OutcomeSkipped, NewUnitError(ErrParseFailure, draft.Source, err)
	}
	draft.Date = draft.Date.UTC()
	draft.Title = strings.TrimSpace(draft.Title)

	id := DraftID(draft)
	unlock := m.locks.Lock(id)
	defer unlock()

	if draft.IdentityByURL {
		existing, err := m.repo.GetByURL(ctx, draft.URL)
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("lookup url %s: %w", draft.URL, err)
		}
		if existing != nil {
			m.logger.Debug("event url already stored, skipping", "url", draft.URL, "id", existing.ID)
			return OutcomeSkipped, nil
		}
	}

	existing, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("lookup id %s: %w", id, err)
	}

	now := m.clock.Now().UTC().Truncate(timestampResolution)

	if existing == nil {
		event := eventFromDraft(id, draft)
		event.CreatedAt = now
		event.UpdatedAt = now
		event.IsActive = true

		err := m.repo.Insert(ctx, event)
		if err == nil {
			return OutcomeInserted, nil
		}
		if !errors.Is(err, ErrPersistenceConflict) {
			return OutcomeSkipped, fmt.Errorf("insert %s: %w", id, err)
		}
		// Another writer got there first: last write wins.
		m.logger.Warn("insert conflict, applying as update", "id", id, "source", draft.Source)
		existing, err = m.repo.GetByID(ctx, id)
		if err != nil || existing == nil {
			return OutcomeSkipped, fmt.Errorf("reload %s after conflict: %w", id, errors.Join(ErrPersistenceConflict, err))
		}
	}

	event := eventFromDraft(id, draft)
	event.CreatedAt = existing.CreatedAt
	event.IsActive = existing.IsActive
	event.UpdatedAt = now
	if !event.UpdatedAt.After(existing.UpdatedAt) {
		event.UpdatedAt = existing.UpdatedAt.Truncate(timestampResolution).Add(timestampResolution)
	}

	if err := m.repo.Update(ctx, event); err != nil {
		return OutcomeSkipped, fmt.Errorf("update %s: %w", id, err)
	}
	return OutcomeUpdated, nil
}

// Counts tallies merge outcomes for a batch.
type Counts struct {
	Found   int
	New     int
	Updated int
	Skipped int
	Failed  int
}

// UpsertAll applies drafts in order. Failures are counted and logged, never
// returned, so one bad draft does not stop the batch.
func (m *Merger) UpsertAll(ctx context.Context, drafts []models.Draft) Counts {
	counts := Counts{Found: len(drafts)}
	for i, draft := range drafts {
		if ctx.Err() != nil {
			counts.Failed += len(drafts) - i
			break
		}
		outcome, err := m.Upsert(ctx, draft)
		if err != nil {
			counts.Failed++
			m.logger.Warn("draft rejected",
				"source", draft.Source,
				"title", draft.Title,
				"error", err,
			)
			continue
		}
		switch outcome {
		case OutcomeInserted:
			counts.New++
		case OutcomeUpdated:
			counts.Updated++
		default:
			counts.Skipped++
		}
	}
	return counts
}

func eventFromDraft(id string, d models.Draft) models.Event {
	event := models.Event{
		ID:          id,
		Title:       d.Title,
		Description: d.Description,
		Location:    d.Location,
		URL:         d.URL,
		Source:      d.Source,
		ImageURL:    d.ImageURL,
		Date:        d.Date,
		Tags:        cloneTags(d.Tags),
	}
	if d.EndDate != nil {
		endDate := d.EndDate.UTC()
		event.EndDate = &endDate
	}
	return event
}

// keyedMutex serializes work per key without holding a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
