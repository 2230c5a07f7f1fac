package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// Ledger implements ports.AssetLedger in memory.
// Safe for concurrent use; the single mutex gives each primitive the
// atomicity the orchestrator's lock protocol requires.
type Ledger struct {
	mu     sync.Mutex
	assets map[string]*domain.Asset
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{assets: make(map[string]*domain.Asset)}
}

// Seed inserts assets directly, keeping their IDs. Test fixtures and the
// demo config path use it.
func (l *Ledger) Seed(assets ...*domain.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range assets {
		l.assets[a.ID] = a.Clone()
	}
}

// GetAsset returns a copy of the asset.
func (l *Ledger) GetAsset(ctx context.Context, id string) (*domain.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[id]
	if !ok {
		return nil, domain.ErrAssetNotFound
	}
	return a.Clone(), nil
}

// TryLock claims the asset for fusionID, or fails with a ConflictError if
// another fusion holds it.
func (l *Ledger) TryLock(ctx context.Context, assetID, fusionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[assetID]
	if !ok {
		return domain.ErrAssetNotFound
	}
	if a.LockedByFusion != "" && a.LockedByFusion != fusionID {
		return &domain.ConflictError{AssetID: assetID}
	}
	a.LockedByFusion = fusionID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Unlock releases the lock when held by fusionID; otherwise a no-op.
func (l *Ledger) Unlock(ctx context.Context, assetID, fusionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[assetID]
	if !ok {
		return domain.ErrAssetNotFound
	}
	if a.LockedByFusion == fusionID {
		a.LockedByFusion = ""
		a.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// CreateAsset persists a new asset, assigning an ID when absent.
func (l *Ledger) CreateAsset(ctx context.Context, asset *domain.Asset) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := asset.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	l.assets[cp.ID] = cp
	return cp.ID, nil
}

// IncrementFusionCount bumps the consumed-as-parent counter.
func (l *Ledger) IncrementFusionCount(ctx context.Context, assetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[assetID]
	if !ok {
		return domain.ErrAssetNotFound
	}
	a.FusionCount++
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ListByOwner returns copies of the owner's assets, ordered by ID for
// deterministic output.
func (l *Ledger) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*domain.Asset
	for _, a := range l.assets {
		if a.OwnerID == ownerID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
