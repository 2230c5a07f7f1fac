package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// Store implements ports.FusionStore in memory.
// Safe for concurrent use. Records are deep-copied on the way in and out
// so callers cannot mutate stored state through a shared pointer.
type Store struct {
	mu   sync.Mutex
	recs map[string]*domain.FusionRecord
}

// NewStore creates an empty in-memory fusion store.
func NewStore() *Store {
	return &Store{recs: make(map[string]*domain.FusionRecord)}
}

// Create persists a new pending record.
func (s *Store) Create(ctx context.Context, rec *domain.FusionRecord) error {
	if rec.Status != domain.StatusPending {
		return fmt.Errorf("new fusion record must be pending, got %s", rec.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recs[rec.ID]; exists {
		return fmt.Errorf("fusion %s already exists", rec.ID)
	}
	s.recs[rec.ID] = rec.Clone()
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(ctx context.Context, id string) (*domain.FusionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, domain.ErrFusionNotFound
	}
	return rec.Clone(), nil
}

// ListByCreator returns the creator's records, newest first.
func (s *Store) ListByCreator(ctx context.Context, creatorID string) ([]*domain.FusionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.FusionRecord
	for _, rec := range s.recs {
		if rec.CreatorID == creatorID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CompareAndSetStatus atomically moves the record from expected to next.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.Status, update ports.FusionUpdate) error {
	if !expected.CanTransition(next) {
		return fmt.Errorf("illegal fusion transition %s -> %s", expected, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return domain.ErrFusionNotFound
	}
	if rec.Status != expected {
		return fmt.Errorf("fusion %s is %s, expected %s: %w", id, rec.Status, expected, domain.ErrStatusConflict)
	}

	rec.Status = next
	if update.ResultAssetID != nil {
		rec.ResultAssetID = *update.ResultAssetID
	}
	if update.ErrorMessage != nil {
		rec.ErrorMessage = *update.ErrorMessage
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListStuck returns processing records last updated before the cutoff.
func (s *Store) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.FusionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.FusionRecord
	for _, rec := range s.recs {
		if rec.Status == domain.StatusProcessing && rec.UpdatedAt.Before(olderThan) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}
