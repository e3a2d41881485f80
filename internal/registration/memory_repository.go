package registration

import (
	"context"
	"sync"
	"time"
)

type memoryUser struct {
	pending   PendingRegistration
	createdAt time.Time
}

// MemoryRepository is an in-memory UserRepository for tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	byMobile map[string]memoryUser
	failWith error
}

// NewMemoryRepository builds an empty in-memory pledge user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byMobile: make(map[string]memoryUser)}
}

func (r *MemoryRepository) ExistsByMobileNumber(_ context.Context, mobile string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byMobile[mobile]
	return ok, nil
}

func (r *MemoryRepository) Create(_ context.Context, p PendingRegistration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	if _, exists := r.byMobile[p.MobileNumber]; exists {
		return 0, ErrDuplicateMobileNumber
	}
	r.nextID++
	r.byMobile[p.MobileNumber] = memoryUser{pending: p, createdAt: time.Now()}
	return r.nextID, nil
}

func (r *MemoryRepository) CountAll(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.byMobile)), nil
}

func (r *MemoryRepository) CountToday(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	y, m, d := time.Now().Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	var n int64
	for _, u := range r.byMobile {
		if !u.createdAt.Before(midnight) {
			n++
		}
	}
	return n, nil
}

// SetFailCreate makes subsequent Create calls fail with err; nil restores normal behaviour.
func (r *MemoryRepository) SetFailCreate(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}
