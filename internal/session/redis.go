package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultUpdateRetries = 10

// deleteByPrefixScript removes all keys matching ARGV[1] inside a single
// script execution so concurrent readers never see a partially purged prefix.
var deleteByPrefixScript = redis.NewScript(`
local keys = redis.call('KEYS', ARGV[1])
for i = 1, #keys, 500 do
  redis.call('DEL', unpack(keys, i, math.min(i + 499, #keys)))
end
return #keys
`)

// RedisStore implements Store on top of Redis.
type RedisStore struct {
	client     redis.UniversalClient
	maxRetries int
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, maxRetries: defaultUpdateRetries}
}

// Set stores value under key with ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// TTL returns the remaining time-to-live of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// go-redis reports the raw -2 (missing) and -1 (no expiry) replies.
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

// Delete removes keys. Missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("delete by prefix: empty prefix")
	}
	if err := deleteByPrefixScript.Run(ctx, s.client, nil, escapeGlob(prefix)+"*").Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Update performs an optimistic WATCH/MULTI transaction over keys.
func (s *RedisStore) Update(ctx context.Context, keys []string, fn func(tx Txn) error) error {
	for i := 0; i < s.maxRetries; i++ {
		var fnErr error
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTxn{ctx: ctx, rtx: rtx}
			if fnErr = fn(tx); fnErr != nil {
				return fnErr
			}
			return tx.commit()
		}, keys...)

		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrUnavailable):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, ErrConflict)
}

type redisTxn struct {
	ctx context.Context
	rtx *redis.Tx
	ops []func(pipe redis.Pipeliner)
}

func (t *redisTxn) Get(key string) ([]byte, error) {
	data, err := t.rtx.Get(t.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

func (t *redisTxn) Set(key string, value []byte, ttl time.Duration) {
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		if ttl == KeepTTL {
			pipe.Set(t.ctx, key, value, redis.KeepTTL)
			return
		}
		pipe.Set(t.ctx, key, value, ttl)
	})
}

func (t *redisTxn) Delete(key string) {
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		pipe.Del(t.ctx, key)
	})
}

func (t *redisTxn) commit() error {
	if len(t.ops) == 0 {
		return nil
	}
	_, err := t.rtx.TxPipelined(t.ctx, func(pipe redis.Pipeliner) error {
		for _, op := range t.ops {
			op(pipe)
		}
		return nil
	})
	return err
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
