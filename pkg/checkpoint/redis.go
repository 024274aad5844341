package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps checkpoints in Redis with a TTL.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. ttl 0 keeps checkpoints until deleted.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves the checkpoint for key.
// Returns ErrNotFound if the key doesn't exist or has expired.
func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, error) {
	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			recordOperation("get", "miss")
			return Entry{}, ErrNotFound
		}
		recordOperation("get", "error")
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		recordOperation("get", "error")
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	recordOperation("get", "hit")
	return entry, nil
}

// Set stores entry for key, stamping UpdatedAt when unset.
func (s *RedisStore) Set(ctx context.Context, key Key, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		recordOperation("set", "error")
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, key.String(), data, s.ttl).Err(); err != nil {
		recordOperation("set", "error")
		return fmt.Errorf("redis set: %w", err)
	}

	recordOperation("set", "ok")
	return nil
}

// Delete removes the checkpoint for key.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, key.String()).Err(); err != nil {
		recordOperation("delete", "error")
		return fmt.Errorf("redis del: %w", err)
	}

	recordOperation("delete", "ok")
	return nil
}
