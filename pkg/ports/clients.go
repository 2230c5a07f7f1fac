package ports

import (
	"context"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// GenerationResult is the derived artwork produced by the generation
// backend.
type GenerationResult struct {
	// ArtifactURI points at the generated artwork (typically object
	// storage or IPFS).
	ArtifactURI string

	// Attributes are the derived traits of the result asset.
	Attributes map[string]any
}

// GenerationClient produces derived artwork/attributes from parent asset
// data. Calls must be idempotent on requestToken: repeating a call with
// the same token and input returns the existing artifact instead of
// generating twice.
type GenerationClient interface {
	Generate(ctx context.Context, parents []*domain.Asset, params map[string]any, requestToken string) (*GenerationResult, error)
}

// MintResult is a confirmed on-chain mint.
type MintResult struct {
	// MintAddress is the on-chain address of the newly minted asset.
	MintAddress string

	// Confirmation is the chain's transaction reference.
	Confirmation string
}

// MintClient mints a new on-chain asset from generated metadata.
// Mint must be idempotent on requestToken to avoid double-minting on
// retry; Lookup lets the reconciler recover a mint whose response was
// lost to a crash.
type MintClient interface {
	Mint(ctx context.Context, artifactURI string, attributes map[string]any, creatorAccount, requestToken string) (*MintResult, error)

	// Lookup returns the confirmed mint for the token, or a
	// *domain.ServiceError with code domain.ErrCodeNotFound.
	Lookup(ctx context.Context, requestToken string) (*MintResult, error)
}

// CostPolicy quotes the price of a fusion. Implementations must be pure
// and deterministic so the quote can be recomputed idempotently during
// retries and reconciliation without re-charging.
type CostPolicy interface {
	Quote(parents []*domain.Asset, params map[string]any) (int64, error)
}
