// Package reconcile resolves fusions stranded in processing after a
// crash or an ambiguous mint outcome. It is the only component besides
// the orchestrator allowed to move a fusion, and it may only finalize:
// confirm a mint through the idempotent lookup, or fail with a timeout
// reason. It never fabricates a completion.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fuselabs/fuseforge/internal/metrics"
	"github.com/fuselabs/fuseforge/internal/orchestrator"
	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// Config shapes the sweep loop.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// StuckDeadline is how long a fusion may sit in processing before a
	// sweep resolves it.
	StuckDeadline time.Duration

	// LookupTimeout caps each mint lookup.
	LookupTimeout time.Duration
}

// DefaultConfig returns production-shaped bounds.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		StuckDeadline: 10 * time.Minute,
		LookupTimeout: 15 * time.Second,
	}
}

// Worker periodically sweeps stuck fusion records.
type Worker struct {
	store     ports.FusionStore
	mint      ports.MintClient
	finalizer *orchestrator.Finalizer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New wires a worker. It shares the orchestrator's finalizer so both
// resolvers apply identical terminal semantics.
func New(store ports.FusionStore, mint ports.MintClient, finalizer *orchestrator.Finalizer, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Worker {
	return &Worker{
		store:     store,
		mint:      mint,
		finalizer: finalizer,
		logger:    logger,
		metrics:   m,
		cfg:       cfg,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; call Stop (or
// cancel ctx) to end the loop.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-ticker.C:
				w.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for the in-flight sweep to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Sweep resolves every fusion stuck in processing past the deadline.
// Exported so the CLI can run a one-shot reconciliation.
func (w *Worker) Sweep(ctx context.Context) {
	defer w.metrics.ReconcilerSweeps.Inc()

	cutoff := time.Now().UTC().Add(-w.cfg.StuckDeadline)
	stuck, err := w.store.ListStuck(ctx, cutoff)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to list stuck fusions", "err", err)
		return
	}
	if len(stuck) == 0 {
		return
	}

	w.logger.InfoContext(ctx, "reconciling stuck fusions", "count", len(stuck))
	for _, rec := range stuck {
		w.resolve(ctx, rec)
	}
}

// resolve finalizes one stuck record. A confirmed mint wins over the
// timeout verdict; plain lookup failures leave the record for the next
// sweep rather than guessing.
func (w *Worker) resolve(ctx context.Context, rec *domain.FusionRecord) {
	lookupCtx, cancel := context.WithTimeout(ctx, w.cfg.LookupTimeout)
	defer cancel()

	mint, err := w.mint.Lookup(lookupCtx, rec.RequestToken)
	switch {
	case err == nil:
		// The mint landed even though nobody recorded it. Recover it.
		if _, err := w.finalizer.Complete(ctx, rec, nil, mint, orchestrator.ResolverReconciler); err != nil {
			if !errors.Is(err, domain.ErrStatusConflict) {
				w.logger.ErrorContext(ctx, "failed to recover completed fusion",
					"fusion_id", rec.ID, "err", err)
				return
			}
		}
		w.metrics.ReconcilerResolved.WithLabelValues(string(domain.StatusCompleted)).Inc()

	case isNotFound(err):
		reason := "timeout: fusion exceeded the processing deadline with no confirmed mint"
		if err := w.finalizer.Fail(ctx, rec, reason, orchestrator.ResolverReconciler); err != nil {
			if !errors.Is(err, domain.ErrStatusConflict) {
				w.logger.ErrorContext(ctx, "failed to time out stuck fusion",
					"fusion_id", rec.ID, "err", err)
				return
			}
		}
		w.metrics.ReconcilerResolved.WithLabelValues(string(domain.StatusFailed)).Inc()

	default:
		// The relay was unreachable; with no evidence either way the
		// record stays in processing and the next sweep retries.
		w.logger.WarnContext(ctx, "mint lookup failed, will retry next sweep",
			"fusion_id", rec.ID, "err", err)
	}
}

func isNotFound(err error) bool {
	var se *domain.ServiceError
	return errors.As(err, &se) && se.Code == domain.ErrCodeNotFound
}
