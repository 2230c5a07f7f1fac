package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuselabs/fuseforge/internal/adapters/memory"
	"github.com/fuselabs/fuseforge/internal/costing"
	"github.com/fuselabs/fuseforge/internal/logging"
	"github.com/fuselabs/fuseforge/internal/metrics"
	"github.com/fuselabs/fuseforge/internal/orchestrator"
	"github.com/fuselabs/fuseforge/internal/reconcile"
	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// lookupMint serves scripted lookup results; Mint is never called by the
// reconciler.
type lookupMint struct {
	res *ports.MintResult
	err error
}

func (m *lookupMint) Mint(ctx context.Context, artifactURI string, attrs map[string]any, creator, token string) (*ports.MintResult, error) {
	panic("reconciler must never mint")
}

func (m *lookupMint) Lookup(ctx context.Context, token string) (*ports.MintResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

type fixture struct {
	ledger *memory.Ledger
	store  *memory.Store
	worker *reconcile.Worker
}

// seedStuck plants a processing record with locked parents, simulating a
// crash mid-pipeline.
func seedStuck(t *testing.T, ledger *memory.Ledger, store *memory.Store, fusionID string) *domain.FusionRecord {
	t.Helper()
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	ledger.Seed(
		&domain.Asset{ID: "p1", OwnerID: "alice", Name: "Asset p1"},
		&domain.Asset{ID: "p2", OwnerID: "alice", Name: "Asset p2"},
	)

	rec := domain.NewFusionRecord(fusionID, "alice", []string{"p1", "p2"}, nil, past)
	rec.Name = "Stuck fusion"
	rec.CostLamports = 1_000_000
	require.NoError(t, store.Create(ctx, rec))
	require.NoError(t, store.CompareAndSetStatus(ctx, rec.ID, domain.StatusPending, domain.StatusProcessing, ports.FusionUpdate{}))
	require.NoError(t, ledger.TryLock(ctx, "p1", rec.ID))
	require.NoError(t, ledger.TryLock(ctx, "p2", rec.ID))

	rec.Status = domain.StatusProcessing
	return rec
}

func newFixture(t *testing.T, mint *lookupMint) *fixture {
	t.Helper()
	ledger := memory.NewLedger()
	store := memory.NewStore()

	m := metrics.NewNop()
	logger := logging.NewNop()
	orch := orchestrator.New(ledger, store, nil, mint, costing.DefaultPolicy(), logger, m, orchestrator.DefaultConfig())

	cfg := reconcile.DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.StuckDeadline = -time.Hour // everything in processing counts as stuck
	cfg.LookupTimeout = time.Second

	worker := reconcile.New(store, mint, orch.Finalizer(), logger, m, cfg)
	return &fixture{ledger: ledger, store: store, worker: worker}
}

func TestSweep_RecoversConfirmedMint(t *testing.T) {
	ctx := context.Background()
	mint := &lookupMint{res: &ports.MintResult{MintAddress: "RecoveredAddr", Confirmation: "sig-9"}}
	fx := newFixture(t, mint)
	rec := seedStuck(t, fx.ledger, fx.store, "f-recover")

	fx.worker.Sweep(ctx)

	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status, "a confirmed mint must never be reported as failed")
	require.NotEmpty(t, got.ResultAssetID)

	result, err := fx.ledger.GetAsset(ctx, got.ResultAssetID)
	require.NoError(t, err)
	assert.Equal(t, "RecoveredAddr", result.MintAddress)

	for _, id := range []string{"p1", "p2"} {
		parent, err := fx.ledger.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.False(t, parent.Locked())
		assert.Equal(t, 1, parent.FusionCount)
	}
}

func TestSweep_TimesOutWithoutMint(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &lookupMint{err: domain.NewServiceError(domain.ErrCodeNotFound, "nothing")})
	rec := seedStuck(t, fx.ledger, fx.store, "f-timeout")

	fx.worker.Sweep(ctx)

	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "timeout")
	assert.Empty(t, got.ResultAssetID)

	for _, id := range []string{"p1", "p2"} {
		parent, err := fx.ledger.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.False(t, parent.Locked())
		assert.Zero(t, parent.FusionCount)
	}
}

func TestSweep_UnreachableRelayLeavesRecordAlone(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &lookupMint{err: domain.NewServiceError(domain.ErrCodeUnavailable, "relay down")})
	rec := seedStuck(t, fx.ledger, fx.store, "f-unknown")

	fx.worker.Sweep(ctx)

	// No evidence either way: stay in processing for the next sweep.
	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	parent, err := fx.ledger.GetAsset(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, parent.Locked())
}

func TestSweep_IgnoresFreshProcessing(t *testing.T) {
	ctx := context.Background()
	mint := &lookupMint{err: domain.NewServiceError(domain.ErrCodeNotFound, "nothing")}

	ledger := memory.NewLedger()
	store := memory.NewStore()
	m := metrics.NewNop()
	logger := logging.NewNop()
	orch := orchestrator.New(ledger, store, nil, mint, costing.DefaultPolicy(), logger, m, orchestrator.DefaultConfig())

	cfg := reconcile.DefaultConfig()
	cfg.StuckDeadline = time.Hour // nothing recent qualifies
	worker := reconcile.New(store, mint, orch.Finalizer(), logger, m, cfg)

	rec := seedStuck(t, ledger, store, "f-fresh")
	worker.Sweep(ctx)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status, "records inside the deadline are not touched")
}

func TestWorker_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mint := &lookupMint{err: domain.NewServiceError(domain.ErrCodeNotFound, "nothing")}
	fx := newFixture(t, mint)
	rec := seedStuck(t, fx.ledger, fx.store, "f-loop")

	fx.worker.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := fx.store.Get(context.Background(), rec.ID)
		return err == nil && got.Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond, "the loop must resolve the stuck record")

	fx.worker.Stop()
}
