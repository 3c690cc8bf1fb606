package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker is a keyed TTL lock. The sync engine takes one per connection so a
// cursor is never advanced by two cycles at once. Acquire hands back a token
// minted for that acquisition; Release is a no-op unless the token still owns
// the key, so a holder whose TTL lapsed cannot free a successor's lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type memoryLease struct {
	token  string
	expiry time.Time
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memoryLease{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if lease, ok := l.held[key]; ok && lease.expiry.After(now) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = memoryLease{token: token, expiry: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.held[key]; ok && lease.token == token {
		delete(l.held, key)
	}
	return nil
}
