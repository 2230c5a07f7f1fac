// Package costing quotes the price of a fusion in lamports.
//
// The policy is pure and deterministic: the same parents and parameters
// always quote the same amount, so the orchestrator and the reconciler
// can recompute it idempotently without re-charging anyone.
package costing

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// GenerationParams is the typed view of the opaque aiParameters mapping.
// Unknown keys are ignored; they are forwarded verbatim to the
// generation backend either way.
type GenerationParams struct {
	Quality string `mapstructure:"quality"` // draft | standard | high
	Steps   int    `mapstructure:"steps"`
	Upscale bool   `mapstructure:"upscale"`
}

// DecodeParams extracts the cost-relevant fields from a raw parameter map.
func DecodeParams(raw map[string]any) (GenerationParams, error) {
	var p GenerationParams
	if raw == nil {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("invalid generation parameters: %w", err)
	}
	return p, nil
}

// Policy implements ports.CostPolicy with a simple additive formula:
// a base fee, a fee per parent, a lineage surcharge that grows with each
// parent's fusion count, and quality multipliers on top.
type Policy struct {
	// BaseLamports is charged for every fusion.
	BaseLamports int64

	// PerParentLamports is charged per consumed parent.
	PerParentLamports int64

	// LineageLamports is charged per prior fusion of each parent.
	// Deeply fused assets get more expensive to consume again.
	LineageLamports int64
}

// DefaultPolicy mirrors the production fee schedule.
func DefaultPolicy() *Policy {
	return &Policy{
		BaseLamports:      10_000_000, // 0.01 SOL
		PerParentLamports: 2_500_000,
		LineageLamports:   500_000,
	}
}

// Quote prices the fusion. The result is always non-negative.
func (p *Policy) Quote(parents []*domain.Asset, params map[string]any) (int64, error) {
	gp, err := DecodeParams(params)
	if err != nil {
		return 0, err
	}

	cost := p.BaseLamports
	for _, parent := range parents {
		cost += p.PerParentLamports
		cost += int64(parent.FusionCount) * p.LineageLamports
	}

	switch gp.Quality {
	case "", "standard":
		// Base rate.
	case "draft":
		cost = cost * 3 / 4
	case "high":
		cost = cost * 3 / 2
	default:
		return 0, domain.NewValidationError("unknown quality %q", gp.Quality)
	}

	// Step count above the default 30 scales linearly.
	if gp.Steps > 30 {
		cost += int64(gp.Steps-30) * 100_000
	}
	if gp.Upscale {
		cost += 1_000_000
	}

	if cost < 0 {
		cost = 0
	}
	return cost, nil
}
