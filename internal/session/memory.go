package session

import (
	"context"
	"strings"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	offset     atomic.Int64
	maxRetries int
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), maxRetries: defaultUpdateRetries}
}

func (s *MemoryStore) now() time.Time {
	return time.Now().Add(time.Duration(s.offset.Load()))
}

func (s *MemoryStore) lookup(key string) (memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(s.now()) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	item := memoryItem{value: append([]byte(nil), value...)}
	switch {
	case ttl == KeepTTL:
		if prev, ok := s.lookup(key); ok {
			item.expiresAt = prev.expiresAt
		}
	case ttl > 0:
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	if item.expiresAt.IsZero() {
		return -1, nil
	}
	return item.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			delete(s.items, key)
		}
	}
	return nil
}

// Update runs fn under the store lock. Keys can still expire while fn runs,
// so, like a Redis WATCH, a watched key that was present when fn started and
// is gone afterwards discards the writes and runs fn again.
func (s *MemoryStore) Update(_ context.Context, keys []string, fn func(tx Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.maxRetries; i++ {
		present := make(map[string]bool, len(keys))
		for _, key := range keys {
			_, present[key] = s.lookup(key)
		}

		tx := &memoryTxn{store: s}
		if err := fn(tx); err != nil {
			return err
		}
		if s.expiredDuring(present) {
			continue
		}
		for _, op := range tx.ops {
			op()
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, ErrConflict)
}

func (s *MemoryStore) expiredDuring(present map[string]bool) bool {
	for key, was := range present {
		if _, ok := s.lookup(key); was && !ok {
			return true
		}
	}
	return false
}

type memoryTxn struct {
	store *MemoryStore
	ops   []func()
}

func (t *memoryTxn) Get(key string) ([]byte, error) {
	item, ok := t.store.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (t *memoryTxn) Set(key string, value []byte, ttl time.Duration) {
	value = append([]byte(nil), value...)
	t.ops = append(t.ops, func() { t.store.put(key, value, ttl) })
}

func (t *memoryTxn) Delete(key string) {
	t.ops = append(t.ops, func() { delete(t.store.items, key) })
}
