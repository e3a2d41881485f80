package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("session: key not found")

	// ErrUnavailable wraps every infrastructure failure of the backing store.
	ErrUnavailable = errors.New("session: store unavailable")

	// ErrConflict indicates an optimistic update lost the race too many times.
	ErrConflict = errors.New("session: concurrent modification")
)

// KeepTTL may be passed as the ttl of Txn.Set to preserve the remaining
// time-to-live of an existing key.
const KeepTTL time.Duration = -1

// Store is the ephemeral key-value contract used by the registration flow.
// Expiry is enforced by the implementation; callers only observe absence.
type Store interface {
	// Set overwrites key and resets its time-to-live. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// TTL reports the remaining lifetime of key. It is negative when the key
	// exists without an expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPrefix removes every key starting with prefix in one atomic step.
	DeleteByPrefix(ctx context.Context, prefix string) error
	// Update runs fn against a consistent view of keys. Writes issued through
	// the Txn are applied atomically only if none of keys changed meanwhile;
	// otherwise fn is retried. An error returned by fn aborts the update and is
	// returned unchanged.
	Update(ctx context.Context, keys []string, fn func(tx Txn) error) error
}

// Txn buffers writes for Store.Update. Reads observe the state before any of
// the buffered writes.
type Txn interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// Encode serialises a record for storage.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode session record: %w", err)
	}
	return data, nil
}

// Decode deserialises a stored record into v.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode session record: %w", err)
	}
	return nil
}

// GetJSON fetches key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return Decode(data, v)
}

// SetJSON encodes v and stores it under key with the given ttl.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data, ttl)
}
