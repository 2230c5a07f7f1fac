package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// Ledger implements ports.AssetLedger on Redis.
//
// Layout per asset:
//
//	<prefix>asset:<id>          JSON blob (immutable fields)
//	<prefix>asset:<id>:lock     fusion ID holding the parent lock
//	<prefix>asset:<id>:fusions  consumed-as-parent counter
//	<prefix>owner:<ownerID>     SET of asset IDs
//
// The lock lives in its own key so acquisition is a single SETNX.
type Ledger struct {
	client *backend.Client
	prefix string
}

// NewLedger creates a ledger from an existing client.
func NewLedger(client *backend.Client, opts ...Option) *Ledger {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Ledger{client: client, prefix: cfg.prefix}
}

func (l *Ledger) assetKey(id string) string { return l.prefix + "asset:" + id }
func (l *Ledger) lockKey(id string) string { return l.prefix + "asset:" + id + ":lock" }
func (l *Ledger) countKey(id string) string { return l.prefix + "asset:" + id + ":fusions" }
func (l *Ledger) ownerKey(id string) string { return l.prefix + "owner:" + id }

// GetAsset loads the blob and merges in the live lock holder and fusion
// counter.
func (l *Ledger) GetAsset(ctx context.Context, id string) (*domain.Asset, error) {
	pipe := l.client.Pipeline()
	blobCmd := pipe.Get(ctx, l.assetKey(id))
	lockCmd := pipe.Get(ctx, l.lockKey(id))
	countCmd := pipe.Get(ctx, l.countKey(id))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to get asset from redis: %w", err)
	}

	raw, err := blobCmd.Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset from redis: %w", err)
	}

	var asset domain.Asset
	if err := json.Unmarshal([]byte(raw), &asset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal asset: %w", err)
	}

	if holder, err := lockCmd.Result(); err == nil {
		asset.LockedByFusion = holder
	}
	if count, err := countCmd.Result(); err == nil {
		if n, convErr := strconv.Atoi(count); convErr == nil {
			asset.FusionCount = n
		}
	}
	return &asset, nil
}

// TryLock claims the asset with a single SETNX. Holding fusions may
// re-lock; anyone else gets a ConflictError.
func (l *Ledger) TryLock(ctx context.Context, assetID, fusionID string) error {
	exists, err := l.client.Exists(ctx, l.assetKey(assetID)).Result()
	if err != nil {
		return fmt.Errorf("redis error checking asset: %w", err)
	}
	if exists == 0 {
		return domain.ErrAssetNotFound
	}

	ok, err := l.client.SetNX(ctx, l.lockKey(assetID), fusionID, 0).Result()
	if err != nil {
		return fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if ok {
		return nil
	}

	holder, err := l.client.Get(ctx, l.lockKey(assetID)).Result()
	if err != nil && !errors.Is(err, backend.Nil) {
		return fmt.Errorf("redis error reading lock holder: %w", err)
	}
	if holder == fusionID {
		return nil
	}
	return &domain.ConflictError{AssetID: assetID}
}

// unlockScript releases the lock only when held by the given fusion.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Unlock releases the lock if held by fusionID; otherwise a no-op.
func (l *Ledger) Unlock(ctx context.Context, assetID, fusionID string) error {
	exists, err := l.client.Exists(ctx, l.assetKey(assetID)).Result()
	if err != nil {
		return fmt.Errorf("redis error checking asset: %w", err)
	}
	if exists == 0 {
		return domain.ErrAssetNotFound
	}

	if err := l.client.Eval(ctx, unlockScript, []string{l.lockKey(assetID)}, fusionID).Err(); err != nil {
		return fmt.Errorf("redis error releasing lock: %w", err)
	}
	return nil
}

// CreateAsset persists a new asset blob and indexes it by owner.
func (l *Ledger) CreateAsset(ctx context.Context, asset *domain.Asset) (string, error) {
	cp := asset.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	// Lock state and counter live in their own keys.
	cp.LockedByFusion = ""
	initialCount := cp.FusionCount
	cp.FusionCount = 0

	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal asset: %w", err)
	}

	pipe := l.client.Pipeline()
	pipe.Set(ctx, l.assetKey(cp.ID), data, 0)
	pipe.Set(ctx, l.countKey(cp.ID), initialCount, 0)
	pipe.SAdd(ctx, l.ownerKey(cp.OwnerID), cp.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save asset to redis: %w", err)
	}
	return cp.ID, nil
}

// IncrementFusionCount bumps the counter key.
func (l *Ledger) IncrementFusionCount(ctx context.Context, assetID string) error {
	exists, err := l.client.Exists(ctx, l.assetKey(assetID)).Result()
	if err != nil {
		return fmt.Errorf("redis error checking asset: %w", err)
	}
	if exists == 0 {
		return domain.ErrAssetNotFound
	}
	if err := l.client.Incr(ctx, l.countKey(assetID)).Err(); err != nil {
		return fmt.Errorf("redis error incrementing fusion count: %w", err)
	}
	return nil
}

// ListByOwner resolves the owner index.
func (l *Ledger) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Asset, error) {
	ids, err := l.client.SMembers(ctx, l.ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error listing owner assets: %w", err)
	}
	sort.Strings(ids)

	out := make([]*domain.Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := l.GetAsset(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAssetNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, asset)
	}
	return out, nil
}
