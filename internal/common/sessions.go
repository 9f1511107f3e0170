package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chunkvault/chunkvault/pkg/config"
)

// ErrKeyNotFound is returned by Get when no record exists for the key.
var ErrKeyNotFound = errors.New("key not found")

// ErrNoChange can be returned from an Update callback to skip the write
// and leave the stored record untouched.
var ErrNoChange = errors.New("no change")

// ErrUpdateConflict is returned when an Update keeps losing the race
// against concurrent writers.
var ErrUpdateConflict = errors.New("update conflict")

// updateRetries bounds the optimistic-transaction retry loop.
const updateRetries = 5

// SessionStore is the key-value persistence consumed by the coordinator
// and the sweeper. Values are opaque serialized session records.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL returns the remaining time-to-live. A negative duration means
	// the key has no expiry (-1) or does not exist (-2), mirroring Redis.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Update runs a read-modify-write transaction on a single key. The
	// callback receives the current value (nil if absent) and returns
	// the next value and its TTL. The write is rejected and retried if
	// the key changes underneath the transaction.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, time.Duration, error)) error
}

// RedisSessionStore implements SessionStore on a Redis client
type RedisSessionStore struct {
	client *redis.Client
}

// NewSessionStore connects to Redis and verifies the connection
func NewSessionStore(cfg *config.RedisConfig) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSessionStore{client: client}, nil
}

// Get retrieves the raw record for a key
func (s *RedisSessionStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return data, nil
}

// Put stores a record with an expiration
func (s *RedisSessionStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys matching the pattern
func (s *RedisSessionStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys for %s: %w", pattern, err)
	}
	return keys, nil
}

// TTL returns the remaining time-to-live of a key
func (s *RedisSessionStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get TTL for %s: %w", key, err)
	}
	return ttl, nil
}

// Update performs an optimistic read-modify-write on a single key using
// WATCH. Concurrent writers to the same key cause a retry rather than a
// lost update.
func (s *RedisSessionStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, time.Duration, error)) error {
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return fmt.Errorf("failed to read key %s: %w", key, err)
		}

		next, ttl, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	return ErrUpdateConflict
}

// Close closes the Redis connection
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
