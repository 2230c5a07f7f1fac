package ports

import (
	"context"
	"time"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// FusionUpdate carries the optional fields written together with a status
// transition. Nil pointers leave the stored value untouched.
type FusionUpdate struct {
	ResultAssetID *string
	ErrorMessage  *string
}

// FusionStore persists fusion records durably.
type FusionStore interface {
	// Create persists a new record. The record's status must be
	// domain.StatusPending.
	Create(ctx context.Context, rec *domain.FusionRecord) error

	// Get returns a copy of the record, or domain.ErrFusionNotFound.
	Get(ctx context.Context, id string) (*domain.FusionRecord, error)

	// ListByCreator returns the creator's records, newest first.
	ListByCreator(ctx context.Context, creatorID string) ([]*domain.FusionRecord, error)

	// CompareAndSetStatus atomically moves the record from expected to
	// next, applying update and refreshing UpdatedAt. It fails with
	// domain.ErrStatusConflict when the stored status differs from
	// expected, so a racing retry and reconciliation sweep cannot both
	// win. Illegal transitions are rejected before touching storage.
	CompareAndSetStatus(ctx context.Context, id string, expected, next domain.Status, update FusionUpdate) error

	// ListStuck returns records still in processing whose last update is
	// older than the cutoff. The reconciliation worker resolves them.
	ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.FusionRecord, error)
}
