package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/fuselabs/fuseforge/pkg/domain"
	"github.com/fuselabs/fuseforge/pkg/ports"
)

// options configures the redis adapters.
type options struct {
	prefix string
}

// Option mutates adapter configuration.
type Option func(*options)

func defaultOptions() *options {
	return &options{prefix: "fuseforge:"}
}

// WithPrefix sets the key prefix shared by all adapter keys.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// Store implements ports.FusionStore on Redis.
//
// Layout per record:
//
//	<prefix>fusion:<id>         JSON blob
//	<prefix>fusion:<id>:status  current status, the CAS anchor
//	<prefix>creator:<id>        ZSET of fusion IDs scored by createdAt
//	<prefix>processing          ZSET of fusion IDs scored by updatedAt
//
// Records mutate only through status transitions, so guarding the status
// key is enough to guard the blob: a writer that loses the status CAS
// never writes its stale blob.
type Store struct {
	client *backend.Client
	prefix string
}

// NewStore creates a fusion store from an existing client.
func NewStore(client *backend.Client, opts ...Option) *Store {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Store{client: client, prefix: cfg.prefix}
}

func (s *Store) fusionKey(id string) string { return s.prefix + "fusion:" + id }
func (s *Store) statusKey(id string) string { return s.prefix + "fusion:" + id + ":status" }
func (s *Store) creatorKey(id string) string { return s.prefix + "creator:" + id }
func (s *Store) processingKey() string { return s.prefix + "processing" }

// Create persists a new pending record and indexes it by creator.
func (s *Store) Create(ctx context.Context, rec *domain.FusionRecord) error {
	if rec.Status != domain.StatusPending {
		return fmt.Errorf("new fusion record must be pending, got %s", rec.Status)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal fusion record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.fusionKey(rec.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save fusion to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("fusion %s already exists", rec.ID)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.statusKey(rec.ID), string(rec.Status), 0)
	pipe.ZAdd(ctx, s.creatorKey(rec.CreatorID), backend.Z{
		Score:  float64(rec.CreatedAt.UnixNano()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index fusion in redis: %w", err)
	}
	return nil
}

// Get returns the stored record.
func (s *Store) Get(ctx context.Context, id string) (*domain.FusionRecord, error) {
	raw, err := s.client.Get(ctx, s.fusionKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrFusionNotFound
		}
		return nil, fmt.Errorf("failed to get fusion from redis: %w", err)
	}

	var rec domain.FusionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fusion record: %w", err)
	}
	return &rec, nil
}

// ListByCreator resolves the creator index, newest first.
func (s *Store) ListByCreator(ctx context.Context, creatorID string) ([]*domain.FusionRecord, error) {
	ids, err := s.client.ZRevRange(ctx, s.creatorKey(creatorID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error listing creator fusions: %w", err)
	}

	out := make([]*domain.FusionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrFusionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// casScript swaps the blob and status only while the stored status still
// matches the expected one, and maintains the processing index in the
// same atomic step.
const casScript = `
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("set", KEYS[1], ARGV[2])
redis.call("set", KEYS[2], ARGV[3])
if ARGV[2] == "processing" then
	redis.call("zadd", KEYS[3], ARGV[4], ARGV[5])
else
	redis.call("zrem", KEYS[3], ARGV[5])
end
return 1
`

// CompareAndSetStatus atomically moves the record from expected to next.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, expected, next domain.Status, update ports.FusionUpdate) error {
	if !expected.CanTransition(next) {
		return fmt.Errorf("illegal fusion transition %s -> %s", expected, next)
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != expected {
		return fmt.Errorf("fusion %s is %s, expected %s: %w", id, rec.Status, expected, domain.ErrStatusConflict)
	}

	rec.Status = next
	if update.ResultAssetID != nil {
		rec.ResultAssetID = *update.ResultAssetID
	}
	if update.ErrorMessage != nil {
		rec.ErrorMessage = *update.ErrorMessage
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal fusion record: %w", err)
	}

	keys := []string{s.statusKey(id), s.fusionKey(id), s.processingKey()}
	args := []any{
		string(expected),
		string(next),
		string(data),
		strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10),
		id,
	}
	swapped, err := s.client.Eval(ctx, casScript, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("redis error swapping status: %w", err)
	}
	if swapped == 0 {
		return fmt.Errorf("fusion %s moved concurrently, expected %s: %w", id, expected, domain.ErrStatusConflict)
	}
	return nil
}

// ListStuck returns processing records last updated before the cutoff.
func (s *Store) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.FusionRecord, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.processingKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error listing stuck fusions: %w", err)
	}

	out := make([]*domain.FusionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrFusionNotFound) {
				continue
			}
			return nil, err
		}
		// The index is maintained inside the CAS script, but double-check
		// before handing a record to the reconciler.
		if rec.Status == domain.StatusProcessing {
			out = append(out, rec)
		}
	}
	return out, nil
}
