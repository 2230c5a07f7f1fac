package domain

import "time"

// Asset is a digital collectible tracked by the ledger.
// Fusion only reads assets as parents and creates one for the result.
type Asset struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"ownerId"`
	CollectionID string         `json:"collectionId,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	ImageURL     string         `json:"imageUrl"`
	MintAddress  string         `json:"mintAddress,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`

	// LockedByFusion holds the ID of the in-flight fusion that claimed
	// this asset as a parent, or "" when unlocked. At most one fusion
	// may hold the lock at a time.
	LockedByFusion string `json:"lockedByFusion,omitempty"`

	// FusionCount is incremented every time the asset is consumed as a
	// parent in a completed fusion.
	FusionCount int `json:"fusionCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Locked reports whether an active fusion holds this asset.
func (a *Asset) Locked() bool {
	return a.LockedByFusion != ""
}

// Clone returns a deep copy so callers cannot mutate stored state through
// a shared attribute map.
func (a *Asset) Clone() *Asset {
	cp := *a
	if a.Attributes != nil {
		cp.Attributes = make(map[string]any, len(a.Attributes))
		for k, v := range a.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
