// Package orchestrator drives a fusion request from submission to a
// terminal status: validate, lock parents, quote cost, generate, mint,
// finalize. It owns the status state machine; nothing else moves a
// fusion forward except the reconciler's recovery path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuselabs/fuseforge/internal/metrics"
	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// Config bounds the external calls.
type Config struct {
	// GenerationTimeout caps a single generation attempt.
	GenerationTimeout time.Duration

	// MintTimeout caps a single mint attempt.
	MintTimeout time.Duration

	// RetryInitialWait seeds the exponential backoff between attempts.
	RetryInitialWait time.Duration

	// RetryMaxAttempts is the retry budget per external call, not
	// counting the first attempt.
	RetryMaxAttempts uint64
}

// DefaultConfig returns production-shaped bounds.
func DefaultConfig() Config {
	return Config{
		GenerationTimeout: 2 * time.Minute,
		MintTimeout:       90 * time.Second,
		RetryInitialWait:  500 * time.Millisecond,
		RetryMaxAttempts:  4,
	}
}

// SubmitRequest is one fusion submission.
type SubmitRequest struct {
	CreatorID   string
	ParentIDs   []string
	Params      map[string]any
	Name        string
	Description string
}

// Orchestrator sequences the fusion workflow. All collaborators are
// constructor-supplied; there is no ambient registry.
type Orchestrator struct {
	ledger  ports.AssetLedger
	store   ports.FusionStore
	gen     ports.GenerationClient
	mint    ports.MintClient
	cost    ports.CostPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	finalizer *Finalizer
	wg        sync.WaitGroup
}

// New wires an orchestrator from its collaborators.
func New(ledger ports.AssetLedger, store ports.FusionStore, gen ports.GenerationClient, mint ports.MintClient, cost ports.CostPolicy, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Orchestrator {
	return &Orchestrator{
		ledger:  ledger,
		store:   store,
		gen:     gen,
		mint:    mint,
		cost:    cost,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		finalizer: &Finalizer{
			Ledger:  ledger,
			Store:   store,
			Logger:  logger,
			Metrics: m,
		},
	}
}

// Finalizer returns the shared finalize logic, used by the reconciliation
// worker so both resolvers apply identical terminal semantics.
func (o *Orchestrator) Finalizer() *Finalizer {
	return o.finalizer
}

// Submit validates and admits a fusion request. On success the returned
// record is already in processing and the external pipeline runs in the
// background; callers poll the store for the terminal status. A client
// disconnect after Submit returns does not abort the workflow.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.FusionRecord, error) {
	parents, err := o.validate(ctx, req)
	if err != nil {
		o.countSubmission(err)
		return nil, err
	}

	fusionID := uuid.NewString()
	now := time.Now().UTC()
	rec := domain.NewFusionRecord(fusionID, req.CreatorID, req.ParentIDs, req.Params, now)
	rec.Name = req.Name
	if rec.Name == "" {
		rec.Name = fmt.Sprintf("Fusion of %d assets", len(req.ParentIDs))
	}
	rec.Description = req.Description

	// All-or-nothing lock acquisition. A conflict on any parent releases
	// everything already claimed; two racing submissions over an
	// overlapping parent set end with exactly one winner.
	acquired := make([]string, 0, len(req.ParentIDs))
	for _, parentID := range req.ParentIDs {
		if err := o.ledger.TryLock(ctx, parentID, fusionID); err != nil {
			o.releaseLocks(ctx, acquired, fusionID)
			o.countSubmission(err)
			return nil, err
		}
		acquired = append(acquired, parentID)
	}
	o.metrics.LocksHeld.Add(float64(len(acquired)))

	abort := func(err error) (*domain.FusionRecord, error) {
		o.releaseLocks(ctx, acquired, fusionID)
		o.metrics.LocksHeld.Sub(float64(len(acquired)))
		o.countSubmission(err)
		return nil, err
	}

	cost, err := o.cost.Quote(parents, req.Params)
	if err != nil {
		return abort(err)
	}
	rec.CostLamports = cost

	// Cost is persisted with the pending record, before processing, and
	// is immutable afterwards.
	if err := o.store.Create(ctx, rec); err != nil {
		return abort(fmt.Errorf("failed to persist fusion record: %w", err))
	}

	// Processing must be durable before the first external call so a
	// crash from here on is observable and recoverable by the reconciler.
	if err := o.store.CompareAndSetStatus(ctx, rec.ID, domain.StatusPending, domain.StatusProcessing, ports.FusionUpdate{}); err != nil {
		return abort(fmt.Errorf("failed to start processing: %w", err))
	}
	rec.Status = domain.StatusProcessing

	o.metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	o.logger.InfoContext(ctx, "fusion admitted",
		"fusion_id", rec.ID,
		"creator", rec.CreatorID,
		"parents", len(rec.ParentIDs),
		"cost_lamports", rec.CostLamports,
	)

	o.wg.Add(1)
	// Detached from the caller: once processing is persisted the
	// workflow runs to a terminal state regardless of the submitter's
	// lifetime.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer o.wg.Done()
		o.run(runCtx, rec, parents)
	}()

	return rec.Clone(), nil
}

// Wait blocks until all in-flight pipelines finish. Called on shutdown
// and by tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// validate enforces the submission contract without side effects.
func (o *Orchestrator) validate(ctx context.Context, req SubmitRequest) ([]*domain.Asset, error) {
	if req.CreatorID == "" {
		return nil, domain.NewValidationError("creator is required")
	}
	if len(req.ParentIDs) < 2 {
		return nil, domain.NewValidationError("a fusion needs at least 2 parent assets, got %d", len(req.ParentIDs))
	}
	seen := make(map[string]struct{}, len(req.ParentIDs))
	for _, id := range req.ParentIDs {
		if _, dup := seen[id]; dup {
			return nil, domain.NewValidationError("duplicate parent asset %s", id)
		}
		seen[id] = struct{}{}
	}

	parents := make([]*domain.Asset, 0, len(req.ParentIDs))
	for _, id := range req.ParentIDs {
		asset, err := o.ledger.GetAsset(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAssetNotFound) {
				return nil, domain.NewValidationError("parent asset %s does not exist", id)
			}
			return nil, err
		}
		if asset.OwnerID != req.CreatorID {
			return nil, domain.NewValidationError("parent asset %s is not owned by %s", id, req.CreatorID)
		}
		if asset.Locked() {
			return nil, &domain.ConflictError{AssetID: id}
		}
		parents = append(parents, asset)
	}
	return parents, nil
}

// run executes the external pipeline for an admitted fusion.
func (o *Orchestrator) run(ctx context.Context, rec *domain.FusionRecord, parents []*domain.Asset) {
	var genResult *ports.GenerationResult
	err := o.callWithRetry(ctx, "generate", o.cfg.GenerationTimeout, func(callCtx context.Context) error {
		res, err := o.gen.Generate(callCtx, parents, rec.AIParameters, rec.RequestToken)
		if err != nil {
			return err
		}
		genResult = res
		return nil
	})
	if err != nil {
		// No mint was dispatched, so failing here cannot lose anything.
		o.finalizeFailed(ctx, rec, "generation failed: "+err.Error())
		return
	}

	var mintResult *ports.MintResult
	err = o.callWithRetry(ctx, "mint", o.cfg.MintTimeout, func(callCtx context.Context) error {
		res, err := o.mint.Mint(callCtx, genResult.ArtifactURI, genResult.Attributes, rec.CreatorID, rec.RequestToken)
		if err != nil {
			return err
		}
		mintResult = res
		return nil
	})
	if err != nil {
		if domain.IsRetryable(err) {
			// Retry budget exhausted on an ambiguous failure: the mint
			// may have landed. Leave the record in processing; the
			// reconciler resolves it through the idempotent lookup
			// instead of a blind retry that could double-mint.
			o.logger.WarnContext(ctx, "mint outcome ambiguous, deferring to reconciler",
				"fusion_id", rec.ID, "err", err)
			return
		}
		o.finalizeFailed(ctx, rec, "mint failed: "+err.Error())
		return
	}

	if _, err := o.finalizer.Complete(ctx, rec, genResult, mintResult, ResolverOrchestrator); err != nil {
		o.logger.ErrorContext(ctx, "failed to finalize completed fusion",
			"fusion_id", rec.ID, "err", err)
	}
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, rec *domain.FusionRecord, reason string) {
	if err := o.finalizer.Fail(ctx, rec, reason, ResolverOrchestrator); err != nil {
		o.logger.ErrorContext(ctx, "failed to finalize failed fusion",
			"fusion_id", rec.ID, "err", err)
	}
}

func (o *Orchestrator) releaseLocks(ctx context.Context, assetIDs []string, fusionID string) {
	for _, id := range assetIDs {
		if err := o.ledger.Unlock(ctx, id, fusionID); err != nil {
			o.logger.ErrorContext(ctx, "failed to release parent lock",
				"asset_id", id, "fusion_id", fusionID, "err", err)
		}
	}
}

func (o *Orchestrator) countSubmission(err error) {
	var verr *domain.ValidationError
	var cerr *domain.ConflictError
	switch {
	case errors.As(err, &verr):
		o.metrics.SubmissionsTotal.WithLabelValues("validation_error").Inc()
	case errors.As(err, &cerr):
		o.metrics.SubmissionsTotal.WithLabelValues("conflict").Inc()
	default:
		o.metrics.SubmissionsTotal.WithLabelValues("error").Inc()
	}
}
