package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type jobState int

const (
	stateWaiting jobState = iota
	stateActive
	stateDead
)

type memoryJob struct {
	job         Job
	score       float64
	state       jobState
	leaseExpiry time.Time
	deadAt      time.Time
}

// MemoryStore is a single-process Store used by tests and local development.
// It mirrors the Redis backend's contract, including lease expiry and
// dead-lettering, under one mutex.
type MemoryStore struct {
	mu        sync.Mutex
	opts      Options
	jobs      map[string]*memoryJob
	dedup     map[string]time.Time
	completed map[string]int64
	failed    map[string]int64
	now       func() time.Time
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:      opts.withDefaults(),
		jobs:      map[string]*memoryJob{},
		dedup:     map[string]time.Time{},
		completed: map[string]int64{},
		failed:    map[string]int64{},
		now:       time.Now,
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, queueName string, job Job, opts EnqueueOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if opts.DedupKey != "" {
		key := queueName + ":" + opts.DedupKey
		if expiry, ok := s.dedup[key]; ok && expiry.After(now) {
			return "", ErrDuplicate
		}
		s.dedup[key] = now.Add(s.opts.DedupTTL)
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Queue = queueName
	job.Priority = opts.Priority
	job.EnqueuedAt = now
	job.NotBefore = now.Add(opts.Delay)
	job.MaxAttempts = opts.MaxAttempts
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.opts.MaxAttempts
	}

	s.jobs[job.ID] = &memoryJob{
		job:   job,
		score: orderScore(job.Priority, job.EnqueuedAt),
		state: stateWaiting,
	}
	return job.ID, nil
}

func (s *MemoryStore) Claim(ctx context.Context, queueName, workerID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var best *memoryJob
	for _, mj := range s.jobs {
		if mj.job.Queue != queueName {
			continue
		}
		if mj.state == stateActive && !mj.leaseExpiry.After(now) {
			// Abandoned claim: the lease ran out, hand the job back.
			mj.state = stateWaiting
		}
		if mj.state != stateWaiting || mj.job.NotBefore.After(now) {
			continue
		}
		if best == nil || mj.score < best.score {
			best = mj
		}
	}
	if best == nil {
		return nil, ErrEmpty
	}

	best.state = stateActive
	best.leaseExpiry = now.Add(s.opts.LeaseTimeout)
	best.job.Attempts++
	claimed := best.job
	return &claimed, nil
}

func (s *MemoryStore) Complete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	s.completed[mj.job.Queue]++
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, jobID, reason string, retryIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	mj.state = stateWaiting
	mj.job.LastError = reason
	mj.job.NotBefore = s.now().Add(retryIn)
	return nil
}

func (s *MemoryStore) Postpone(ctx context.Context, jobID string, retryIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	mj.state = stateWaiting
	mj.job.NotBefore = s.now().Add(retryIn)
	if mj.job.Attempts > 0 {
		mj.job.Attempts--
	}
	return nil
}

func (s *MemoryStore) Kill(ctx context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mj, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	mj.state = stateDead
	mj.job.LastError = reason
	mj.deadAt = s.now()
	s.failed[mj.job.Queue]++
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context, queueName string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := Stats{
		Queue:     queueName,
		Completed: s.completed[queueName],
		Failed:    s.failed[queueName],
	}
	for _, mj := range s.jobs {
		if mj.job.Queue != queueName {
			continue
		}
		switch {
		case mj.state == stateDead:
			stats.Dead++
		case mj.state == stateActive:
			stats.Active++
		case mj.job.NotBefore.After(now):
			stats.Delayed++
		default:
			stats.Waiting++
		}
	}
	return stats, nil
}

func (s *MemoryStore) DeadJobs(ctx context.Context, queueName string, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var dead []*memoryJob
	for _, mj := range s.jobs {
		if mj.job.Queue == queueName && mj.state == stateDead {
			dead = append(dead, mj)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].deadAt.After(dead[j].deadAt) })
	if len(dead) > limit {
		dead = dead[:limit]
	}
	out := make([]Job, 0, len(dead))
	for _, mj := range dead {
		out = append(out, mj.job)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
