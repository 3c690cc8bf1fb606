package lock

import (
	"context"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "sync:conn:1", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("acquire: token=%q ok=%v err=%v", token, ok, err)
	}

	if _, ok, _ := l.Acquire(ctx, "sync:conn:1", time.Minute); ok {
		t.Fatalf("second acquire succeeded while held")
	}
	// Other keys are independent.
	if _, ok, _ := l.Acquire(ctx, "sync:conn:2", time.Minute); !ok {
		t.Fatalf("unrelated key blocked")
	}

	if err := l.Release(ctx, "sync:conn:1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "sync:conn:1", time.Minute); !ok {
		t.Fatalf("acquire after release failed")
	}
}

func TestStaleHolderCannotReleaseSuccessor(t *testing.T) {
	l := NewMemoryLocker()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	tokenA, ok, err := l.Acquire(ctx, "sync:conn:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire A: ok=%v err=%v", ok, err)
	}

	// A's TTL lapses and B takes over the key.
	clock = clock.Add(2 * time.Minute)
	tokenB, ok, err := l.Acquire(ctx, "sync:conn:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire B after expiry: ok=%v err=%v", ok, err)
	}
	if tokenA == tokenB {
		t.Fatalf("tokens must be minted per acquisition")
	}

	// A's deferred release fires late; B must keep the lock.
	if err := l.Release(ctx, "sync:conn:1", tokenA); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "sync:conn:1", time.Minute); ok {
		t.Fatalf("lock acquired while B still holds it")
	}

	if err := l.Release(ctx, "sync:conn:1", tokenB); err != nil {
		t.Fatalf("release B: %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "sync:conn:1", time.Minute); !ok {
		t.Fatalf("acquire after B released failed")
	}
}
