package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuselabs/fuseforge/internal/adapters/memory"
	"github.com/fuselabs/fuseforge/internal/costing"
	"github.com/fuselabs/fuseforge/internal/logging"
	"github.com/fuselabs/fuseforge/internal/metrics"
	"github.com/fuselabs/fuseforge/internal/orchestrator"
	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// fakeGen scripts the generation backend.
type fakeGen struct {
	mu       sync.Mutex
	calls    int
	failures []error // consumed one per call before succeeding
	result   *ports.GenerationResult
}

func (f *fakeGen) Generate(ctx context.Context, parents []*domain.Asset, params map[string]any, token string) (*ports.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ports.GenerationResult{
		ArtifactURI: "ipfs://generated/" + token,
		Attributes:  map[string]any{"aura": "test"},
	}, nil
}

// fakeMint scripts the mint relay.
type fakeMint struct {
	mu        sync.Mutex
	calls     int
	err       error // returned on every Mint call when set
	lookupRes *ports.MintResult
	tokens    []string
}

func (f *fakeMint) Mint(ctx context.Context, artifactURI string, attrs map[string]any, creator, token string) (*ports.MintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	return &ports.MintResult{MintAddress: "mint-" + token, Confirmation: "sig-1"}, nil
}

func (f *fakeMint) Lookup(ctx context.Context, token string) (*ports.MintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupRes != nil {
		return f.lookupRes, nil
	}
	return nil, domain.NewServiceError(domain.ErrCodeNotFound, "no mint recorded for token")
}

type fixture struct {
	ledger *memory.Ledger
	store  *memory.Store
	gen    *fakeGen
	mint   *fakeMint
	orch   *orchestrator.Orchestrator
}

func newFixture(t *testing.T, gen *fakeGen, mint *fakeMint) *fixture {
	t.Helper()
	ledger := memory.NewLedger()
	store := memory.NewStore()

	cfg := orchestrator.DefaultConfig()
	cfg.RetryInitialWait = time.Millisecond
	cfg.RetryMaxAttempts = 3
	cfg.GenerationTimeout = time.Second
	cfg.MintTimeout = time.Second

	orch := orchestrator.New(ledger, store, gen, mint,
		costing.DefaultPolicy(), logging.NewNop(), metrics.NewNop(), cfg)
	return &fixture{ledger: ledger, store: store, gen: gen, mint: mint, orch: orch}
}

func (fx *fixture) seedParents(t *testing.T, owner string, ids ...string) {
	t.Helper()
	now := time.Now().UTC()
	for _, id := range ids {
		fx.ledger.Seed(&domain.Asset{
			ID:        id,
			OwnerID:   owner,
			Name:      "Asset " + id,
			ImageURL:  "https://cdn.example/" + id + ".png",
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
}

func submit(owner string, parents ...string) orchestrator.SubmitRequest {
	return orchestrator.SubmitRequest{
		CreatorID: owner,
		ParentIDs: parents,
		Params:    map[string]any{"quality": "standard"},
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeGen{}, &fakeMint{})
	fx.seedParents(t, "alice", "p1", "p2")

	rec, err := fx.orch.Submit(ctx, submit("alice", "p1", "p2"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, rec.Status)
	assert.Greater(t, rec.CostLamports, int64(0), "cost must be quoted before processing")

	fx.orch.Wait()

	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotEmpty(t, got.ResultAssetID)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, rec.CostLamports, got.CostLamports, "cost is immutable after admission")

	result, err := fx.ledger.GetAsset(ctx, got.ResultAssetID)
	require.NoError(t, err)
	assert.Equal(t, "alice", result.OwnerID)
	assert.Equal(t, "mint-"+rec.RequestToken, result.MintAddress)
	assert.Equal(t, "ipfs://generated/"+rec.RequestToken, result.ImageURL)

	for _, parentID := range []string{"p1", "p2"} {
		parent, err := fx.ledger.GetAsset(ctx, parentID)
		require.NoError(t, err)
		assert.False(t, parent.Locked(), "parent %s must be unlocked on completion", parentID)
		assert.Equal(t, 1, parent.FusionCount)
	}

	// The same deterministic token went to the mint relay.
	assert.Equal(t, []string{rec.RequestToken}, fx.mint.tokens)
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("Too Few Parents", func(t *testing.T) {
		fx := newFixture(t, &fakeGen{}, &fakeMint{})
		fx.seedParents(t, "alice", "p1")

		_, err := fx.orch.Submit(ctx, submit("alice", "p1"))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("Duplicate Parents", func(t *testing.T) {
		fx := newFixture(t, &fakeGen{}, &fakeMint{})
		fx.seedParents(t, "alice", "p1")

		_, err := fx.orch.Submit(ctx, submit("alice", "p1", "p1"))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("Unknown Parent", func(t *testing.T) {
		fx := newFixture(t, &fakeGen{}, &fakeMint{})
		fx.seedParents(t, "alice", "p1")

		_, err := fx.orch.Submit(ctx, submit("alice", "p1", "ghost"))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("Not Owner", func(t *testing.T) {
		fx := newFixture(t, &fakeGen{}, &fakeMint{})
		fx.seedParents(t, "alice", "p1")
		fx.seedParents(t, "bob", "p2")

		_, err := fx.orch.Submit(ctx, submit("alice", "p1", "p2"))
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("No Side Effects", func(t *testing.T) {
		fx := newFixture(t, &fakeGen{}, &fakeMint{})
		fx.seedParents(t, "alice", "p1")

		_, err := fx.orch.Submit(ctx, submit("alice", "p1"))
		require.Error(t, err)

		recs, err := fx.store.ListByCreator(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, recs, "validation failures must not persist anything")

		parent, err := fx.ledger.GetAsset(ctx, "p1")
		require.NoError(t, err)
		assert.False(t, parent.Locked())
	})
}

func TestSubmit_ConcurrentConflict(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeGen{}, &fakeMint{})
	fx.seedParents(t, "alice", "shared", "x1", "x2")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	reqs := []orchestrator.SubmitRequest{
		submit("alice", "shared", "x1"),
		submit("alice", "shared", "x2"),
	}
	for i := range reqs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = fx.orch.Submit(ctx, reqs[n])
		}(i)
	}
	wg.Wait()
	fx.orch.Wait()

	var conflicts, successes int
	for _, err := range errs {
		var cerr *domain.ConflictError
		switch {
		case err == nil:
			successes++
		case assert.ErrorAs(t, err, &cerr):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes, "exactly one submission must win the shared parent")
	assert.Equal(t, 1, conflicts)

	// The loser must not leave residue: its second parent is unlocked.
	for _, id := range []string{"x1", "x2", "shared"} {
		asset, err := fx.ledger.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.False(t, asset.Locked(), "asset %s must be unlocked after both terminal outcomes", id)
	}
}

func TestSubmit_TransientGenerationRetried(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGen{failures: []error{
		domain.NewServiceError(domain.ErrCodeRateLimited, "busy"),
		domain.NewServiceError(domain.ErrCodeUnavailable, "warming up"),
	}}
	fx := newFixture(t, gen, &fakeMint{})
	fx.seedParents(t, "alice", "p1", "p2")

	rec, err := fx.orch.Submit(ctx, submit("alice", "p1", "p2"))
	require.NoError(t, err)
	fx.orch.Wait()

	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 3, gen.calls, "two transient failures then success")
}

func TestSubmit_PermanentGenerationFails(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGen{failures: []error{
		domain.NewServiceError(domain.ErrCodeInvalidInput, "unsupported style"),
	}}
	fx := newFixture(t, gen, &fakeMint{})
	fx.seedParents(t, "alice", "p1", "p2")

	rec, err := fx.orch.Submit(ctx, submit("alice", "p1", "p2"))
	require.NoError(t, err)
	fx.orch.Wait()

	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "unsupported style")
	assert.Empty(t, got.ResultAssetID)
	assert.Equal(t, 1, gen.calls, "permanent failures must not be retried")
	assert.Zero(t, fx.mint.calls, "mint must not run after generation failure")

	for _, id := range []string{"p1", "p2"} {
		parent, err := fx.ledger.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.False(t, parent.Locked())
		assert.Zero(t, parent.FusionCount, "failed fusions do not consume parents")
	}
}

func TestSubmit_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	mint := &fakeMint{err: domain.NewServiceError(domain.ErrCodeInsufficientFunds, "insufficient funds: need 0.01 SOL")}
	fx := newFixture(t, &fakeGen{}, mint)
	fx.seedParents(t, "alice", "p1", "p2")

	rec, err := fx.orch.Submit(ctx, submit("alice", "p1", "p2"))
	require.NoError(t, err)
	fx.orch.Wait()

	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "funds")
	assert.Empty(t, got.ResultAssetID)

	assets, err := fx.ledger.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, assets, 2, "no result asset may be created on failure")
	for _, a := range assets {
		assert.False(t, a.Locked())
	}
}

func TestSubmit_AmbiguousMintLeftForReconciler(t *testing.T) {
	ctx := context.Background()
	mint := &fakeMint{err: domain.NewServiceError(domain.ErrCodeNetworkTimeout, "relay unreachable")}
	fx := newFixture(t, &fakeGen{}, mint)
	fx.seedParents(t, "alice", "p1", "p2")

	rec, err := fx.orch.Submit(ctx, submit("alice", "p1", "p2"))
	require.NoError(t, err)
	fx.orch.Wait()

	// The mint may have landed; a blind failure could lose it. The record
	// stays in processing, locks held, until the reconciler looks it up.
	got, err := fx.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, int(1+3), mint.calls, "initial attempt plus full retry budget")

	for _, id := range []string{"p1", "p2"} {
		parent, err := fx.ledger.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.True(t, parent.Locked(), "locks must survive until reconciliation resolves the fusion")
	}
}
