package ports

import (
	"context"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// AssetLedger is the view of assets and their ownership/lock state.
// The orchestrator composes these atomic primitives; it never reaches
// into the backing storage directly.
type AssetLedger interface {
	// GetAsset returns a copy of the asset, or domain.ErrAssetNotFound.
	GetAsset(ctx context.Context, id string) (*domain.Asset, error)

	// TryLock atomically claims the asset for the given fusion.
	// It fails with a *domain.ConflictError if any other fusion already
	// holds the lock. Locking an asset twice for the same fusion is a
	// no-op; the lock survives until Unlock.
	TryLock(ctx context.Context, assetID, fusionID string) error

	// Unlock releases the lock if (and only if) it is held by fusionID.
	// Unlocking an unlocked asset is a no-op.
	Unlock(ctx context.Context, assetID, fusionID string) error

	// CreateAsset persists a new asset (the fusion result) and returns
	// its ID.
	CreateAsset(ctx context.Context, asset *domain.Asset) (string, error)

	// IncrementFusionCount bumps the consumed-as-parent counter.
	IncrementFusionCount(ctx context.Context, assetID string) error

	// ListByOwner returns all assets owned by the given account.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Asset, error)
}
