package domain

import (
	"crypto/sha256"
	"time"

	"github.com/mr-tron/base58"
)

// FusionRecord is the durable record of one fusion request. It is created
// in StatusPending, mutated only by the orchestrator (and the reconciler,
// which may only force processing -> failed or confirm a looked-up mint),
// and never deleted: terminal records are retained for audit.
type FusionRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creatorId"`

	// ParentIDs is the ordered set of consumed parent assets.
	// Always >= 2 entries, no duplicates.
	ParentIDs []string `json:"parentIds"`

	// AIParameters is the opaque generation parameter mapping supplied by
	// the caller and forwarded to the generation backend.
	AIParameters map[string]any `json:"aiParameters,omitempty"`

	// CostLamports is the quoted cost in the chain's smallest unit.
	// Computed and persisted before the transition into processing;
	// immutable afterwards.
	CostLamports int64 `json:"costLamports"`

	Status Status `json:"status"`

	// ResultAssetID is set if and only if Status == StatusCompleted.
	ResultAssetID string `json:"resultAssetId,omitempty"`

	// ErrorMessage is set if and only if Status == StatusFailed.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// RequestToken is the deterministic idempotency token used for every
	// external call on behalf of this fusion. Derived from the record ID,
	// so retries and reconciliation always present the same token.
	RequestToken string `json:"requestToken"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewFusionRecord builds a pending record for the given request.
// The request token is derived immediately so it survives crashes that
// happen before the first external call.
func NewFusionRecord(id, creatorID string, parentIDs []string, params map[string]any, now time.Time) *FusionRecord {
	return &FusionRecord{
		ID:           id,
		CreatorID:    creatorID,
		ParentIDs:    append([]string(nil), parentIDs...),
		AIParameters: params,
		Status:       StatusPending,
		RequestToken: DeriveRequestToken(id),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// DeriveRequestToken maps a fusion ID to its idempotency token.
// base58(sha256) keeps the token URL-safe and chain-address shaped.
func DeriveRequestToken(fusionID string) string {
	sum := sha256.Sum256([]byte("fusion:" + fusionID))
	return base58.Encode(sum[:])
}

// Clone returns a deep copy of the record.
func (f *FusionRecord) Clone() *FusionRecord {
	cp := *f
	cp.ParentIDs = append([]string(nil), f.ParentIDs...)
	if f.AIParameters != nil {
		cp.AIParameters = make(map[string]any, len(f.AIParameters))
		for k, v := range f.AIParameters {
			cp.AIParameters[k] = v
		}
	}
	return &cp
}
