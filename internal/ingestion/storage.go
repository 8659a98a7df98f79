package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nesen/eventagg/internal/models"
)

var (
	// ErrRunFinalized is returned when finishing an ingestion run twice.
	ErrRunFinalized = errors.New("ingestion run already finalized")

	// ErrEventNotFound is returned when updating or deactivating a missing event.
	ErrEventNotFound = errors.New("event not found")
)

// EventRepository is the canonical store. Lookups return (nil, nil) when the
// event does not exist. Only the Merger writes events.
type EventRepository interface {
	// GetByID retrieves an event by its ID, including inactive events.
	GetByID(ctx context.Context, id string) (*models.Event, error)

	// GetByURL retrieves an event by its URL, including inactive events.
	GetByURL(ctx context.Context, url string) (*models.Event, error)

	// Insert stores a new event. Inserting an existing ID is a conflict.
	Insert(ctx context.Context, event models.Event) error

	// Update replaces an existing event.
	Update(ctx context.Context, event models.Event) error

	// Query returns active events matching the query, date ascending.
	Query(ctx context.Context, query models.EventQuery) ([]models.Event, error)

	// ListAll returns every active event, date ascending.
	ListAll(ctx context.Context) ([]models.Event, error)

	// Count returns the number of active events.
	Count(ctx context.Context) (int, error)

	// Deactivate soft-deletes an event.
	Deactivate(ctx context.Context, id string) error
}

// RunRepository stores the ingestion run audit log.
type RunRepository interface {
	// Start records a run at its beginning.
	Start(ctx context.Context, run models.IngestionRun) error

	// Finish finalizes a run. A run cannot be finished twice.
	Finish(ctx context.Context, run models.IngestionRun) error

	// Recent returns the most recent runs, newest first.
	Recent(ctx context.Context, limit int) ([]models.IngestionRun, error)
}

// MemoryEventRepository implements an in-memory event store for tests and dry runs.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events map[string]models.Event
	urlIdx map[string]string // URL -> ID
}

// NewMemoryEventRepository creates a new in-memory event repository.
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{
		events: make(map[string]models.Event),
		urlIdx: make(map[string]string),
	}
}

// GetByID retrieves an event by ID.
func (r *MemoryEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	event.Tags = cloneTags(event.Tags)
	return &event, nil
}

// GetByURL retrieves an event by URL.
func (r *MemoryEventRepository) GetByURL(ctx context.Context, url string) (*models.Event, error) {
	r.mu.RLock()
	id, ok := r.urlIdx[url]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

// Insert stores a new event.
func (r *MemoryEventRepository) Insert(ctx context.Context, event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; exists {
		return fmt.Errorf("insert %s: %w", event.ID, ErrPersistenceConflict)
	}
	r.put(event)
	return nil
}

// Update replaces an existing event.
func (r *MemoryEventRepository) Update(ctx context.Context, event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.events[event.ID]
	if !ok {
		return fmt.Errorf("update %s: %w", event.ID, ErrEventNotFound)
	}
	if old.URL != event.URL {
		delete(r.urlIdx, old.URL)
	}
	r.put(event)
	return nil
}

func (r *MemoryEventRepository) put(event models.Event) {
	event.Tags = cloneTags(event.Tags)
	r.events[event.ID] = event
	if event.URL != "" {
		r.urlIdx[event.URL] = event.ID
	}
}

// Query retrieves active events matching the query.
func (r *MemoryEventRepository) Query(ctx context.Context, query models.EventQuery) ([]models.Event, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	matching := make([]models.Event, 0)
	for _, event := range r.events {
		if MatchesQuery(event, query) {
			matching = append(matching, event)
		}
	}
	r.mu.RUnlock()

	SortByDate(matching)

	offset := query.Offset
	if offset >= len(matching) {
		return []models.Event{}, nil
	}
	end := offset + query.EffectiveLimit()
	if end > len(matching) {
		end = len(matching)
	}
	return matching[offset:end], nil
}

// ListAll returns every active event.
func (r *MemoryEventRepository) ListAll(ctx context.Context) ([]models.Event, error) {
	r.mu.RLock()
	all := make([]models.Event, 0, len(r.events))
	for _, event := range r.events {
		if event.IsActive {
			all = append(all, event)
		}
	}
	r.mu.RUnlock()

	SortByDate(all)
	return all, nil
}

// Count returns the number of active events.
func (r *MemoryEventRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, event := range r.events {
		if event.IsActive {
			n++
		}
	}
	return n, nil
}

// Deactivate soft-deletes an event.
func (r *MemoryEventRepository) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return fmt.Errorf("deactivate %s: %w", id, ErrEventNotFound)
	}
	event.IsActive = false
	r.events[id] = event
	return nil
}

// Size returns the number of stored events, active or not.
func (r *MemoryEventRepository) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

func cloneTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// MatchesQuery reports whether an event passes the query filters. Inactive
// events never match.
func MatchesQuery(event models.Event, query models.EventQuery) bool {
	if !event.IsActive {
		return false
	}
	if query.Since != nil && event.Date.Before(*query.Since) {
		return false
	}
	if query.Until != nil && event.Date.After(*query.Until) {
		return false
	}
	if query.Source != "" && !strings.Contains(strings.ToLower(event.Source), strings.ToLower(query.Source)) {
		return false
	}
	return true
}

// SortByDate orders events by start date, then ID for a stable order.
func SortByDate(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date.Equal(events[j].Date) {
			return events[i].ID < events[j].ID
		}
		return events[i].Date.Before(events[j].Date)
	})
}

// MemoryRunRepository implements an in-memory run log.
type MemoryRunRepository struct {
	mu   sync.Mutex
	runs []models.IngestionRun
}

// NewMemoryRunRepository creates a new in-memory run repository.
func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{}
}

// Start records a new run.
func (r *MemoryRunRepository) Start(ctx context.Context, run models.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

// Finish finalizes a run.
func (r *MemoryRunRepository) Finish(ctx context.Context, run models.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.runs {
		if r.runs[i].ID != run.ID {
			continue
		}
		if r.runs[i].Finalized() {
			return fmt.Errorf("finish run %s: %w", run.ID, ErrRunFinalized)
		}
		r.runs[i] = run
		return nil
	}
	return fmt.Errorf("finish run %s: run not found", run.ID)
}

// Recent returns runs newest first.
func (r *MemoryRunRepository) Recent(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]models.IngestionRun, 0, len(r.runs))
	for i := len(r.runs) - 1; i >= 0; i-- {
		result = append(result, r.runs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
