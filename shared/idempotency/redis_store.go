package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisClient is the minimal client surface used by RedisStore.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
}

// RedisStore keeps records as JSON strings. Pending records carry the lease
// as their TTL, so an abandoned claim disappears on its own.
type RedisStore struct {
	client    RedisClient
	keyPrefix string
	retention time.Duration
	clock     models.Clock
}

// NewRedisStore creates a store. retention bounds how long completed results
// are replayed; zero keeps them forever.
func NewRedisStore(client RedisClient, retention time.Duration, clock models.Clock) *RedisStore {
	if clock == nil {
		clock = models.SystemClock
	}
	return &RedisStore{
		client:    client,
		keyPrefix: "idempotency:",
		retention: retention,
		clock:     clock,
	}
}

func (s *RedisStore) Claim(ctx context.Context, key string, lease time.Duration) (*Record, bool, error) {
	rec := &Record{Key: key, Status: StatusPending, LockedAt: s.clock()}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to encode idempotency record")
	}

	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, value, lease).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to claim idempotency key")
	}
	if ok {
		return rec, true, nil
	}

	existing, err := s.Get(ctx, key)
	return existing, false, err
}

func (s *RedisStore) Complete(ctx context.Context, key string, result json.RawMessage) error {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	lockedAt := s.clock()
	if existing != nil {
		lockedAt = existing.LockedAt
	}

	now := s.clock()
	value, err := json.Marshal(&Record{
		Key:         key,
		Status:      StatusCompleted,
		Result:      result,
		LockedAt:    lockedAt,
		CompletedAt: &now,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode idempotency record")
	}

	return errors.Wrap(s.client.Set(ctx, s.keyPrefix+key, value, s.retention).Err(), "failed to complete idempotency key")
}

// Release deletes the key only while it is still pending.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	redisKey := s.keyPrefix + key

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := decodeRecord(tx.Get(ctx, redisKey))
		if err != nil || rec == nil || rec.Status != StatusPending {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			return nil
		})
		return err
	}, redisKey)

	if errors.Is(err, redis.TxFailedErr) {
		// Someone completed or re-claimed the key concurrently.
		return nil
	}
	return errors.Wrap(err, "failed to release idempotency key")
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	rec, err := decodeRecord(s.client.Get(ctx, s.keyPrefix+key))
	return rec, errors.Wrap(err, "failed to get idempotency key")
}

func decodeRecord(cmd *redis.StringCmd) (*Record, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode idempotency record")
	}
	return &rec, nil
}
