package stats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nmbp/pledge_api/internal/session"
)

// DefaultCacheTTL bounds how stale cached counts may get without a commit.
const DefaultCacheTTL = 15 * time.Minute

// fillTTL bounds how long a load may take before its fill token lapses.
const fillTTL = 30 * time.Second

// Counter is the durable source of pledge counts.
type Counter interface {
	CountAll(ctx context.Context) (int64, error)
	CountToday(ctx context.Context) (int64, error)
}

// Counts is the aggregate pledge view.
type Counts struct {
	Total int64 `json:"total"`
	Today int64 `json:"today"`
}

// Service serves pledge counts through the session store. Entries live
// under the shared pledges prefix, which a registration commit purges.
type Service struct {
	store   session.Store
	counter Counter
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService builds a cache-aside stats service.
func NewService(store session.Store, counter Counter, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{store: store, counter: counter, ttl: ttl, logger: logger}
}

// Counts returns total and today's pledge counts.
func (s *Service) Counts(ctx context.Context) (Counts, error) {
	total, err := s.cached(ctx, session.PledgesTotalCountKey, s.counter.CountAll)
	if err != nil {
		return Counts{}, err
	}
	today, err := s.cached(ctx, session.PledgesTodayTotalCountKey, s.counter.CountToday)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Total: total, Today: today}, nil
}

// cached reads key, falling back to load. The loaded value is only written
// back if the fill token set before loading is still in place. The token lives
// under the pledges prefix, so a commit that purges the prefix mid-load drops
// it and the possibly stale value is not cached.
func (s *Service) cached(ctx context.Context, key string, load func(context.Context) (int64, error)) (int64, error) {
	var n int64
	err := session.GetJSON(ctx, s.store, key, &n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		s.warn(ctx, "pledge count cache read failed", key, err)
	}

	fillKey := key + "|filling"
	token := []byte(uuid.NewString())
	if err := s.store.Set(ctx, fillKey, token, fillTTL); err != nil {
		s.warn(ctx, "pledge count fill token write failed", key, err)
		return load(ctx)
	}

	n, err = load(ctx)
	if err != nil {
		return 0, err
	}

	raw, err := session.Encode(n)
	if err != nil {
		return 0, err
	}
	err = s.store.Update(ctx, []string{fillKey, key}, func(tx session.Txn) error {
		current, err := tx.Get(fillKey)
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if string(current) != string(token) {
			return nil
		}
		tx.Set(key, raw, s.ttl)
		tx.Delete(fillKey)
		return nil
	})
	if err != nil {
		s.warn(ctx, "pledge count cache write failed", key, err)
	}
	return n, nil
}

func (s *Service) warn(ctx context.Context, msg, key string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, "key", key, "error", err)
	}
}
