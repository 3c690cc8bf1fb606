package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type JobType string

const (
	JobSync           JobType = "sync"
	JobProcessWebhook JobType = "process-webhook"
	JobNotify         JobType = "notify"
)

// Priorities used across the engine. Webhook-triggered syncs outrank manual
// ones, which outrank routine scheduled ones.
const (
	PriorityScheduled = 0
	PriorityManual    = 5
	PriorityWebhook   = 10

	maxPriority = 100
)

var (
	ErrEmpty     = errors.New("queue: no eligible job")
	ErrDuplicate = errors.New("queue: duplicate dedup key")
	ErrNotFound  = errors.New("queue: job not found")
)

// Job is a unit of asynchronous work. Attempts counts claims, so a job whose
// lease expired and was reclaimed still consumes its retry budget.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Type         JobType         `json:"type"`
	ConnectionID uint            `json:"connection_id,omitempty"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	NotBefore    time.Time       `json:"not_before"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

type EnqueueOptions struct {
	Priority    int
	Delay       time.Duration
	DedupKey    string
	MaxAttempts int
}

type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Delayed   int64  `json:"delayed"`
	Active    int64  `json:"active"`
	Dead      int64  `json:"dead"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// Store is the durable job queue. Claim grants a lease; a claimed job that is
// neither completed nor failed becomes reclaimable once the lease expires,
// which is what makes delivery at-least-once. Postpone reschedules without
// consuming the attempt the claim charged, for jobs bounced by contention
// rather than failure.
type Store interface {
	Enqueue(ctx context.Context, queueName string, job Job, opts EnqueueOptions) (string, error)
	Claim(ctx context.Context, queueName, workerID string) (*Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID, reason string, retryIn time.Duration) error
	Postpone(ctx context.Context, jobID string, retryIn time.Duration) error
	Kill(ctx context.Context, jobID, reason string) error
	Stats(ctx context.Context, queueName string) (Stats, error)
	DeadJobs(ctx context.Context, queueName string, limit int) ([]Job, error)
	Close() error
}

type Options struct {
	LeaseTimeout time.Duration
	DedupTTL     time.Duration
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 2 * time.Minute
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 10 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// orderScore ranks waiting jobs: priority dominates, enqueue time breaks
// ties. Lower score is served first.
func orderScore(priority int, enqueuedAt time.Time) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	const priorityBand = float64(1 << 44) // well above any ms epoch timestamp
	return float64(maxPriority-priority)*priorityBand + float64(enqueuedAt.UnixMilli())
}
