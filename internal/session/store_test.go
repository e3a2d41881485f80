package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type backend struct {
	name    string
	store   Store
	advance func(d time.Duration)
}

func backends(t *testing.T) []backend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	mem := NewMemoryStore()
	return []backend{
		{name: "redis", store: NewRedisStore(client), advance: mr.FastForward},
		{name: "memory", store: mem, advance: func(d time.Duration) { Advance(mem, d) }},
	}
}

func TestStoreSetGetExpire(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := b.store.Get(ctx, "k")
			if err != nil || string(got) != "v" {
				t.Fatalf("expected v, got %q err=%v", got, err)
			}
			ttl, err := b.store.TTL(ctx, "k")
			if err != nil || ttl <= 0 || ttl > time.Minute {
				t.Fatalf("unexpected ttl %v err=%v", ttl, err)
			}

			b.advance(61 * time.Second)

			if _, err := b.store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after expiry, got %v", err)
			}
			if _, err := b.store.TTL(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound ttl after expiry, got %v", err)
			}
		})
	}
}

func TestStoreDeleteByPrefix(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{PledgesCountKey, PledgesTotalCountKey, PledgesTodayTotalCountKey, RegistrationOTP("t1")} {
				if err := b.store.Set(ctx, key, []byte("1"), time.Minute); err != nil {
					t.Fatalf("set %s: %v", key, err)
				}
			}

			if err := b.store.DeleteByPrefix(ctx, PledgesPrefix); err != nil {
				t.Fatalf("delete by prefix: %v", err)
			}

			for _, key := range []string{PledgesCountKey, PledgesTotalCountKey, PledgesTodayTotalCountKey} {
				if _, err := b.store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected %s removed, got %v", key, err)
				}
			}
			if _, err := b.store.Get(ctx, RegistrationOTP("t1")); err != nil {
				t.Fatalf("unrelated key removed: %v", err)
			}
		})
	}
}

func TestStoreUpdateKeepTTL(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.store.Set(ctx, "counter", []byte("0"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			b.advance(40 * time.Second)

			err := b.store.Update(ctx, []string{"counter"}, func(tx Txn) error {
				if _, err := tx.Get("counter"); err != nil {
					return err
				}
				tx.Set("counter", []byte("1"), KeepTTL)
				return nil
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}

			ttl, err := b.store.TTL(ctx, "counter")
			if err != nil {
				t.Fatalf("ttl: %v", err)
			}
			if ttl > 20*time.Second {
				t.Fatalf("expected remaining ttl to be preserved, got %v", ttl)
			}
		})
	}
}

func TestStoreUpdateAbortDiscardsWrites(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			abort := errors.New("abort")
			err := b.store.Update(ctx, []string{"a"}, func(tx Txn) error {
				tx.Set("a", []byte("x"), time.Minute)
				return abort
			})
			if !errors.Is(err, abort) {
				t.Fatalf("expected abort error, got %v", err)
			}
			if _, err := b.store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected no write, got %v", err)
			}
		})
	}
}

func TestStoreUpdateConcurrentIncrements(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			if err := SetJSON(ctx, b.store, "n", 0, time.Minute); err != nil {
				t.Fatalf("seed: %v", err)
			}

			const workers = 8
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := b.store.Update(ctx, []string{"n"}, func(tx Txn) error {
						raw, err := tx.Get("n")
						if err != nil {
							return err
						}
						var n int
						if err := Decode(raw, &n); err != nil {
							return err
						}
						tx.Set("n", []byte(fmt.Sprint(n+1)), KeepTTL)
						return nil
					})
					if err != nil {
						t.Errorf("update: %v", err)
					}
				}()
			}
			wg.Wait()

			var n int
			if err := GetJSON(ctx, b.store, "n", &n); err != nil {
				t.Fatalf("read: %v", err)
			}
			if n != workers {
				t.Fatalf("expected %d increments, got %d", workers, n)
			}
		})
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client)
	mr.Close()

	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := store.Set(context.Background(), "k", []byte("v"), time.Minute); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFormatKey(t *testing.T) {
	if got := RegistrationOTP("abc"); got != "user|registration_otp|txnId:abc" {
		t.Fatalf("unexpected otp key %q", got)
	}
	if got := RegistrationData("abc"); got != "user|registration_data|txnId:abc" {
		t.Fatalf("unexpected data key %q", got)
	}
	if got := FormatKey("admin|user:{userId}|${missing}", map[string]string{"userId": "7"}); got != "admin|user:7|" {
		t.Fatalf("unexpected formatted key %q", got)
	}
}

func TestStoreUpdateKeyExpiresDuringCallback(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			if err := b.store.Set(ctx, "challenge", []byte("0"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}

			calls := 0
			err := b.store.Update(ctx, []string{"challenge"}, func(tx Txn) error {
				calls++
				if _, err := tx.Get("challenge"); errors.Is(err, ErrNotFound) {
					return nil
				} else if err != nil {
					return err
				}
				if calls == 1 {
					b.advance(61 * time.Second)
				}
				tx.Set("challenge", []byte("1"), KeepTTL)
				return nil
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if calls != 2 {
				t.Fatalf("expected the callback to rerun once after expiry, ran %d times", calls)
			}
			if _, err := b.store.Get(ctx, "challenge"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expired key must stay gone, got %v", err)
			}
		})
	}
}

func TestRedisStoreUpdateGivesUpOnConflict(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client)
	ctx := context.Background()

	if err := store.Set(ctx, "n", []byte("0"), time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}

	calls := 0
	err = store.Update(ctx, []string{"n"}, func(tx Txn) error {
		calls++
		if _, err := tx.Get("n"); err != nil {
			return err
		}
		// A competing writer touches the watched key every time.
		if err := store.Set(ctx, "n", []byte(fmt.Sprint(calls)), time.Minute); err != nil {
			return err
		}
		tx.Set("n", []byte("lost"), KeepTTL)
		return nil
	})
	if !errors.Is(err, ErrConflict) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable wrapping ErrConflict, got %v", err)
	}
	if calls != defaultUpdateRetries {
		t.Fatalf("expected %d attempts, got %d", defaultUpdateRetries, calls)
	}
	got, err := store.Get(ctx, "n")
	if err != nil || string(got) == "lost" {
		t.Fatalf("aborted write must not land, got %q err=%v", got, err)
	}
}
