package costing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuselabs/fuseforge/internal/costing"
	"github.com/fuselabs/fuseforge/pkg/domain"
)

func parents(counts ...int) []*domain.Asset {
	out := make([]*domain.Asset, len(counts))
	for i, c := range counts {
		out[i] = &domain.Asset{ID: "p", FusionCount: c}
	}
	return out
}

func TestPolicy_Quote(t *testing.T) {
	policy := &costing.Policy{
		BaseLamports:      1_000,
		PerParentLamports: 100,
		LineageLamports:   10,
	}

	t.Run("Base Plus Parents", func(t *testing.T) {
		got, err := policy.Quote(parents(0, 0), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1_200), got)
	})

	t.Run("Lineage Surcharge", func(t *testing.T) {
		got, err := policy.Quote(parents(3, 1), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1_240), got)
	})

	t.Run("Quality Multipliers", func(t *testing.T) {
		base, err := policy.Quote(parents(0, 0), map[string]any{"quality": "standard"})
		require.NoError(t, err)

		draft, err := policy.Quote(parents(0, 0), map[string]any{"quality": "draft"})
		require.NoError(t, err)
		assert.Less(t, draft, base)

		high, err := policy.Quote(parents(0, 0), map[string]any{"quality": "high"})
		require.NoError(t, err)
		assert.Greater(t, high, base)
	})

	t.Run("Unknown Quality Rejected", func(t *testing.T) {
		_, err := policy.Quote(parents(0, 0), map[string]any{"quality": "ultra"})
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("Deterministic", func(t *testing.T) {
		params := map[string]any{"quality": "high", "steps": 50, "upscale": true}
		first, err := policy.Quote(parents(2, 5), params)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := policy.Quote(parents(2, 5), params)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("Weakly Typed Params", func(t *testing.T) {
		// JSON round-trips numbers as float64; the decoder must cope.
		got, err := policy.Quote(parents(0, 0), map[string]any{"steps": float64(40)})
		require.NoError(t, err)
		assert.Equal(t, int64(1_200+10*100_000), got)
	})
}

func TestDefaultPolicy_NonNegative(t *testing.T) {
	got, err := costing.DefaultPolicy().Quote(nil, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got, int64(0))
}
