package stats

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nmbp/pledge_api/internal/logging"
	"github.com/nmbp/pledge_api/internal/session"
)

type fakeCounter struct {
	total, today int64
	calls        int
	err          error
	// duringLoad runs once, after CountAll has read its value.
	duringLoad func()
}

func (f *fakeCounter) CountAll(context.Context) (int64, error) {
	f.calls++
	n := f.total
	if hook := f.duringLoad; hook != nil {
		f.duringLoad = nil
		hook()
	}
	return n, f.err
}

func (f *fakeCounter) CountToday(context.Context) (int64, error) {
	f.calls++
	return f.today, f.err
}

func TestCountsCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	counter := &fakeCounter{total: 10, today: 2}
	svc := NewService(store, counter, 0, logging.Discard())

	got, err := svc.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if got.Total != 10 || got.Today != 2 {
		t.Fatalf("unexpected counts %+v", got)
	}

	counter.total, counter.today = 11, 3
	got, _ = svc.Counts(ctx)
	if got.Total != 10 || counter.calls != 2 {
		t.Fatalf("expected cached counts, got %+v after %d loads", got, counter.calls)
	}

	if err := store.DeleteByPrefix(ctx, session.PledgesPrefix); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	got, _ = svc.Counts(ctx)
	if got.Total != 11 || got.Today != 3 {
		t.Fatalf("expected fresh counts after invalidation, got %+v", got)
	}
}

func TestCountsExpire(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	counter := &fakeCounter{total: 1}
	svc := NewService(store, counter, DefaultCacheTTL, nil)

	svc.Counts(ctx)
	counter.total = 5
	session.Advance(store, DefaultCacheTTL+1)

	got, _ := svc.Counts(ctx)
	if got.Total != 5 {
		t.Fatalf("expected reload after ttl, got %+v", got)
	}
}

func TestCountsLoadError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("db down")}
	svc := NewService(session.NewMemoryStore(), counter, 0, nil)
	if _, err := svc.Counts(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestCountsCommitDuringLoadIsNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	stores := map[string]session.Store{
		"redis":  session.NewRedisStore(client),
		"memory": session.NewMemoryStore(),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			counter := &fakeCounter{total: 10, today: 2}
			counter.duringLoad = func() {
				counter.total = 11
				if err := store.DeleteByPrefix(ctx, session.PledgesPrefix); err != nil {
					t.Errorf("invalidate: %v", err)
				}
			}
			svc := NewService(store, counter, DefaultCacheTTL, logging.Discard())

			got, err := svc.Counts(ctx)
			if err != nil {
				t.Fatalf("counts: %v", err)
			}
			if got.Total != 10 {
				t.Fatalf("expected the value read before the commit, got %+v", got)
			}

			got, err = svc.Counts(ctx)
			if err != nil {
				t.Fatalf("counts: %v", err)
			}
			if got.Total != 11 {
				t.Fatalf("stale total cached across a commit: %+v", got)
			}
			if _, err := store.Get(ctx, session.PledgesTotalCountKey+"|filling"); !errors.Is(err, session.ErrNotFound) {
				t.Fatalf("fill token left behind: %v", err)
			}
		})
	}
}
