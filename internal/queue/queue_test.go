package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives the store's notion of time so lease and delay behavior is
// testable without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(Options{
		LeaseTimeout: 2 * time.Minute,
		DedupTTL:     10 * time.Minute,
		MaxAttempts:  3,
	})
	s.now = clock.now
	return s, clock
}

func TestClaimOrder_PriorityThenFIFO(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	lowA, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 1}, EnqueueOptions{Priority: PriorityScheduled})
	if err != nil {
		t.Fatalf("enqueue lowA: %v", err)
	}
	clock.advance(time.Second)
	lowB, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 2}, EnqueueOptions{Priority: PriorityScheduled})
	if err != nil {
		t.Fatalf("enqueue lowB: %v", err)
	}
	clock.advance(time.Second)
	high, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 3}, EnqueueOptions{Priority: PriorityWebhook})
	if err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	wantOrder := []string{high, lowA, lowB}
	for i, want := range wantOrder {
		job, err := s.Claim(ctx, "sync", "w1")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if job.ID != want {
			t.Fatalf("claim %d: got job %s want %s", i, job.ID, want)
		}
		if err := s.Complete(ctx, job.ID); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}

	if _, err := s.Claim(ctx, "sync", "w1"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim on drained queue: got %v want ErrEmpty", err)
	}
}

func TestDelayedJobNotEligibleUntilDue(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync", Job{Type: JobSync}, EnqueueOptions{Delay: 30 * time.Second})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := s.Claim(ctx, "sync", "w1"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim before delay: got %v want ErrEmpty", err)
	}

	stats, err := s.Stats(ctx, "sync")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Delayed != 1 || stats.Waiting != 0 {
		t.Fatalf("stats before delay: %+v", stats)
	}

	clock.advance(31 * time.Second)
	job, err := s.Claim(ctx, "sync", "w1")
	if err != nil {
		t.Fatalf("claim after delay: %v", err)
	}
	if job.ID != id {
		t.Fatalf("claimed %s want %s", job.ID, id)
	}
}

func TestDedupKeyRejectsWithinTTL(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 7}, EnqueueOptions{DedupKey: "scheduled:7"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 7}, EnqueueOptions{DedupKey: "scheduled:7"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second enqueue: got %v want ErrDuplicate", err)
	}

	// Same key on a different queue is a different dedup scope.
	if _, err := s.Enqueue(ctx, "notify", Job{Type: JobNotify}, EnqueueOptions{DedupKey: "scheduled:7"}); err != nil {
		t.Fatalf("other-queue enqueue: %v", err)
	}

	clock.advance(11 * time.Minute)
	if _, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 7}, EnqueueOptions{DedupKey: "scheduled:7"}); err != nil {
		t.Fatalf("enqueue after ttl: %v", err)
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync", Job{Type: JobSync}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := s.Claim(ctx, "sync", "w1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Attempts != 1 {
		t.Fatalf("first claim attempts=%d want 1", first.Attempts)
	}

	// Lease still live: nobody else can take it.
	if _, err := s.Claim(ctx, "sync", "w2"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim under live lease: got %v want ErrEmpty", err)
	}

	clock.advance(3 * time.Minute)
	second, err := s.Claim(ctx, "sync", "w2")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if second.ID != id {
		t.Fatalf("reclaimed %s want %s", second.ID, id)
	}
	if second.Attempts != 2 {
		t.Fatalf("reclaim attempts=%d want 2", second.Attempts)
	}
}

func TestFailReschedulesWithDelay(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync", Job{Type: JobSync}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Claim(ctx, "sync", "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Fail(ctx, id, "provider timeout", time.Minute); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if _, err := s.Claim(ctx, "sync", "w1"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim before retry delay: got %v want ErrEmpty", err)
	}

	clock.advance(61 * time.Second)
	job, err := s.Claim(ctx, "sync", "w1")
	if err != nil {
		t.Fatalf("claim after retry delay: %v", err)
	}
	if job.LastError != "provider timeout" {
		t.Fatalf("last error %q", job.LastError)
	}
	if job.Attempts != 2 {
		t.Fatalf("attempts=%d want 2", job.Attempts)
	}
}

func TestPostponeHandsBackTheClaimedAttempt(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync", Job{Type: JobSync}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Two contention bounces, then a claim: the job must still be on its
	// first attempt.
	for i := 0; i < 2; i++ {
		job, err := s.Claim(ctx, "sync", "w1")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if job.Attempts != 1 {
			t.Fatalf("claim %d: attempts=%d want 1", i, job.Attempts)
		}
		if err := s.Postpone(ctx, id, 15*time.Second); err != nil {
			t.Fatalf("postpone %d: %v", i, err)
		}
		if _, err := s.Claim(ctx, "sync", "w1"); !errors.Is(err, ErrEmpty) {
			t.Fatalf("claim before postpone delay: got %v want ErrEmpty", err)
		}
		clock.advance(16 * time.Second)
	}

	job, err := s.Claim(ctx, "sync", "w1")
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts=%d after contention-only bounces, want 1", job.Attempts)
	}
}

func TestKillMovesJobToDeadSet(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "sync", Job{Type: JobSync, ConnectionID: 9}, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Claim(ctx, "sync", "w1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.Kill(ctx, id, "credentials invalid"); err != nil {
		t.Fatalf("kill: %v", err)
	}

	if _, err := s.Claim(ctx, "sync", "w1"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("dead job claimable: %v", err)
	}

	stats, err := s.Stats(ctx, "sync")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Dead != 1 || stats.Failed != 1 {
		t.Fatalf("stats after kill: %+v", stats)
	}

	dead, err := s.DeadJobs(ctx, "sync", 10)
	if err != nil {
		t.Fatalf("dead jobs: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != id || dead[0].LastError != "credentials invalid" {
		t.Fatalf("dead jobs: %+v", dead)
	}
}

func TestEnqueueAppliesDefaultMaxAttempts(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if _, err := s.Enqueue(ctx, "sync", Job{Type: JobSync}, EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, err := s.Claim(ctx, "sync", "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("max attempts=%d want 3", job.MaxAttempts)
	}
}

func TestOrderScoreMonotonicity(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if orderScore(PriorityWebhook, base.Add(time.Hour)) >= orderScore(PriorityScheduled, base) {
		t.Fatalf("higher priority must outrank older low-priority work")
	}
	if orderScore(PriorityManual, base) >= orderScore(PriorityManual, base.Add(time.Millisecond)) {
		t.Fatalf("equal priority must order by enqueue time")
	}
}
