package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// RunFusionStoreContract verifies that a FusionStore implementation
// adheres to the interface contract. Both the memory and redis adapters
// run this suite.
func RunFusionStoreContract(t *testing.T, store FusionStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	newRec := func(id string) *domain.FusionRecord {
		rec := domain.NewFusionRecord(id, "creator-1", []string{"a", "b"}, map[string]any{"style": "baroque"}, now)
		rec.CostLamports = 5_000_000
		return rec
	}

	t.Run("Create and Get", func(t *testing.T) {
		rec := newRec("contract-create")
		require.NoError(t, store.Create(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Equal(t, []string{"a", "b"}, got.ParentIDs)
		assert.Equal(t, int64(5_000_000), got.CostLamports)
		assert.Equal(t, rec.RequestToken, got.RequestToken)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "contract-missing")
		assert.ErrorIs(t, err, domain.ErrFusionNotFound)
	})

	t.Run("CAS Happy Path", func(t *testing.T) {
		rec := newRec("contract-cas")
		require.NoError(t, store.Create(ctx, rec))

		err := store.CompareAndSetStatus(ctx, rec.ID, domain.StatusPending, domain.StatusProcessing, FusionUpdate{})
		require.NoError(t, err)

		result := "asset-r1"
		err = store.CompareAndSetStatus(ctx, rec.ID, domain.StatusProcessing, domain.StatusCompleted, FusionUpdate{ResultAssetID: &result})
		require.NoError(t, err)

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, "asset-r1", got.ResultAssetID)
	})

	t.Run("CAS Wrong Expected Status", func(t *testing.T) {
		rec := newRec("contract-cas-conflict")
		require.NoError(t, store.Create(ctx, rec))

		err := store.CompareAndSetStatus(ctx, rec.ID, domain.StatusProcessing, domain.StatusCompleted, FusionUpdate{})
		assert.ErrorIs(t, err, domain.ErrStatusConflict)
	})

	t.Run("CAS Rejects Illegal Transition", func(t *testing.T) {
		rec := newRec("contract-cas-illegal")
		require.NoError(t, store.Create(ctx, rec))

		err := store.CompareAndSetStatus(ctx, rec.ID, domain.StatusPending, domain.StatusCompleted, FusionUpdate{})
		assert.Error(t, err)

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status, "illegal transition must not touch storage")
	})

	t.Run("Terminal Is Final", func(t *testing.T) {
		rec := newRec("contract-terminal")
		require.NoError(t, store.Create(ctx, rec))
		require.NoError(t, store.CompareAndSetStatus(ctx, rec.ID, domain.StatusPending, domain.StatusProcessing, FusionUpdate{}))

		reason := "mint rejected"
		require.NoError(t, store.CompareAndSetStatus(ctx, rec.ID, domain.StatusProcessing, domain.StatusFailed, FusionUpdate{ErrorMessage: &reason}))

		err := store.CompareAndSetStatus(ctx, rec.ID, domain.StatusFailed, domain.StatusCompleted, FusionUpdate{})
		assert.Error(t, err)
	})

	t.Run("ListStuck", func(t *testing.T) {
		rec := newRec("contract-stuck")
		require.NoError(t, store.Create(ctx, rec))
		require.NoError(t, store.CompareAndSetStatus(ctx, rec.ID, domain.StatusPending, domain.StatusProcessing, FusionUpdate{}))

		// Everything updated before this cutoff counts as stuck.
		stuck, err := store.ListStuck(ctx, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		ids := make([]string, 0, len(stuck))
		for _, r := range stuck {
			assert.Equal(t, domain.StatusProcessing, r.Status)
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, rec.ID)

		// A cutoff in the past matches nothing fresh.
		stuck, err = store.ListStuck(ctx, time.Now().UTC().Add(-time.Hour))
		require.NoError(t, err)
		for _, r := range stuck {
			assert.NotEqual(t, rec.ID, r.ID)
		}
	})

	t.Run("ListByCreator", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec := newRec(fmt.Sprintf("contract-list-%d", i))
			rec.CreatorID = "creator-list"
			require.NoError(t, store.Create(ctx, rec))
		}
		recs, err := store.ListByCreator(ctx, "creator-list")
		require.NoError(t, err)
		assert.Len(t, recs, 3)
	})
}

// RunAssetLedgerContract verifies an AssetLedger implementation,
// including the all-or-nothing lock semantics the orchestrator relies on.
func RunAssetLedgerContract(t *testing.T, ledger AssetLedger) {
	ctx := context.Background()
	now := time.Now().UTC()

	seed := func(t *testing.T, id, owner string) {
		t.Helper()
		_, err := ledger.CreateAsset(ctx, &domain.Asset{
			ID:        id,
			OwnerID:   owner,
			Name:      "Asset " + id,
			ImageURL:  "https://cdn.example/" + id + ".png",
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := ledger.GetAsset(ctx, "ledger-missing")
		assert.ErrorIs(t, err, domain.ErrAssetNotFound)
	})

	t.Run("Lock and Unlock", func(t *testing.T) {
		seed(t, "ledger-lock", "owner-1")

		require.NoError(t, ledger.TryLock(ctx, "ledger-lock", "fusion-1"))

		got, err := ledger.GetAsset(ctx, "ledger-lock")
		require.NoError(t, err)
		assert.Equal(t, "fusion-1", got.LockedByFusion)

		// Second holder is refused.
		err = ledger.TryLock(ctx, "ledger-lock", "fusion-2")
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "ledger-lock", conflict.AssetID)

		// Re-locking by the holder is a no-op.
		require.NoError(t, ledger.TryLock(ctx, "ledger-lock", "fusion-1"))

		// Unlock by a non-holder does not release.
		require.NoError(t, ledger.Unlock(ctx, "ledger-lock", "fusion-2"))
		got, err = ledger.GetAsset(ctx, "ledger-lock")
		require.NoError(t, err)
		assert.Equal(t, "fusion-1", got.LockedByFusion)

		require.NoError(t, ledger.Unlock(ctx, "ledger-lock", "fusion-1"))
		got, err = ledger.GetAsset(ctx, "ledger-lock")
		require.NoError(t, err)
		assert.False(t, got.Locked())
	})

	t.Run("Concurrent Lock Race", func(t *testing.T) {
		seed(t, "ledger-race", "owner-1")

		const contenders = 8
		var wg sync.WaitGroup
		wins := make(chan string, contenders)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				fusionID := fmt.Sprintf("race-fusion-%d", n)
				if err := ledger.TryLock(ctx, "ledger-race", fusionID); err == nil {
					wins <- fusionID
				}
			}(i)
		}
		wg.Wait()
		close(wins)

		var winners []string
		for w := range wins {
			winners = append(winners, w)
		}
		require.Len(t, winners, 1, "exactly one contender must win the lock")

		got, err := ledger.GetAsset(ctx, "ledger-race")
		require.NoError(t, err)
		assert.Equal(t, winners[0], got.LockedByFusion)
	})

	t.Run("FusionCount", func(t *testing.T) {
		seed(t, "ledger-count", "owner-1")
		require.NoError(t, ledger.IncrementFusionCount(ctx, "ledger-count"))
		require.NoError(t, ledger.IncrementFusionCount(ctx, "ledger-count"))

		got, err := ledger.GetAsset(ctx, "ledger-count")
		require.NoError(t, err)
		assert.Equal(t, 2, got.FusionCount)
	})

	t.Run("ListByOwner", func(t *testing.T) {
		seed(t, "ledger-own-1", "owner-list")
		seed(t, "ledger-own-2", "owner-list")

		assets, err := ledger.ListByOwner(ctx, "owner-list")
		require.NoError(t, err)
		assert.Len(t, assets, 2)
	})
}
