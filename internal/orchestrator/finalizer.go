package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fuselabs/fuseforge/internal/metrics"
	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// Resolver labels for the finalize metrics: who moved the fusion to its
// terminal state.
const (
	ResolverOrchestrator = "orchestrator"
	ResolverReconciler   = "reconciler"
)

// Finalizer applies terminal transitions. The orchestrator and the
// reconciliation worker share one instance so completed/failed always
// mean the same thing: result asset recorded (or error captured), parent
// locks released, fusion counters bumped.
type Finalizer struct {
	Ledger  ports.AssetLedger
	Store   ports.FusionStore
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Complete records a confirmed mint: creates the result asset, moves the
// record processing -> completed and releases the parents. gen may be nil
// when the artifact metadata is unknown (reconciler recovery); the asset
// is then created from the mint result alone.
func (f *Finalizer) Complete(ctx context.Context, rec *domain.FusionRecord, gen *ports.GenerationResult, mint *ports.MintResult, resolver string) (string, error) {
	now := time.Now().UTC()
	asset := &domain.Asset{
		OwnerID:     rec.CreatorID,
		Name:        rec.Name,
		Description: rec.Description,
		MintAddress: mint.MintAddress,
		CreatedAt:   now,
	}
	if gen != nil {
		asset.ImageURL = gen.ArtifactURI
		asset.Attributes = gen.Attributes
	}

	assetID, err := f.Ledger.CreateAsset(ctx, asset)
	if err != nil {
		return "", fmt.Errorf("failed to create result asset: %w", err)
	}

	err = f.Store.CompareAndSetStatus(ctx, rec.ID, domain.StatusProcessing, domain.StatusCompleted, ports.FusionUpdate{
		ResultAssetID: &assetID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			// Another resolver finalized first. The mint is confirmed, so
			// losing this race to a "failed" write is a consistency fault
			// worth shouting about; losing to "completed" is benign.
			f.Logger.WarnContext(ctx, "fusion finalized concurrently, dropping duplicate completion",
				"fusion_id", rec.ID, "resolver", resolver)
		}
		return "", err
	}

	for _, parentID := range rec.ParentIDs {
		if err := f.Ledger.IncrementFusionCount(ctx, parentID); err != nil {
			f.Logger.ErrorContext(ctx, "failed to bump fusion count",
				"asset_id", parentID, "fusion_id", rec.ID, "err", err)
		}
	}
	f.release(ctx, rec)

	f.Metrics.FusionsFinalized.WithLabelValues(string(domain.StatusCompleted), resolver).Inc()
	f.Logger.InfoContext(ctx, "fusion completed",
		"fusion_id", rec.ID,
		"result_asset_id", assetID,
		"mint_address", mint.MintAddress,
		"resolver", resolver,
	)
	return assetID, nil
}

// Fail records a terminal failure and releases the parents. The reason is
// stored verbatim for the user.
func (f *Finalizer) Fail(ctx context.Context, rec *domain.FusionRecord, reason, resolver string) error {
	err := f.Store.CompareAndSetStatus(ctx, rec.ID, domain.StatusProcessing, domain.StatusFailed, ports.FusionUpdate{
		ErrorMessage: &reason,
	})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			f.Logger.WarnContext(ctx, "fusion finalized concurrently, dropping duplicate failure",
				"fusion_id", rec.ID, "resolver", resolver)
		}
		return err
	}

	f.release(ctx, rec)

	f.Metrics.FusionsFinalized.WithLabelValues(string(domain.StatusFailed), resolver).Inc()
	f.Logger.InfoContext(ctx, "fusion failed",
		"fusion_id", rec.ID,
		"reason", reason,
		"resolver", resolver,
	)
	return nil
}

// release clears every parent lock exactly once, on terminal transition.
func (f *Finalizer) release(ctx context.Context, rec *domain.FusionRecord) {
	for _, parentID := range rec.ParentIDs {
		if err := f.Ledger.Unlock(ctx, parentID, rec.ID); err != nil {
			f.Logger.ErrorContext(ctx, "failed to release parent lock",
				"asset_id", parentID, "fusion_id", rec.ID, "err", err)
		}
	}
	f.Metrics.LocksHeld.Sub(float64(len(rec.ParentIDs)))
}
