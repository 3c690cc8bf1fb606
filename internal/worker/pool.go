package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"bankfeed/internal/queue"
	"bankfeed/internal/syncer"
)

// inFlightRetryDelay is how long a sync job waits when another cycle holds
// the connection lock. Deliberately outside the backoff schedule: contention
// is not a failure of the job itself.
const inFlightRetryDelay = 15 * time.Second

type Handler func(ctx context.Context, job *queue.Job) error

// Pool claims jobs from the configured queues and dispatches them to the
// handler registered for the job type. Each worker goroutine blocks only on
// its own claimed job's I/O; claiming itself never blocks other workers.
type Pool struct {
	Store        queue.Store
	Logger       *zap.Logger
	Policy       RetryPolicy
	Queues       []string
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration

	// ContentionDelay is how long a job bounced by the connection lock waits
	// before its next run. Defaults to inFlightRetryDelay.
	ContentionDelay time.Duration

	// Permanent classifies errors that must dead-letter immediately.
	// Defaults to DefaultPermanent.
	Permanent func(error) bool

	// OnDead is called after a job is dead-lettered, with the error that
	// killed it.
	OnDead func(ctx context.Context, job *queue.Job, err error)

	handlers map[queue.JobType]Handler
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func (p *Pool) Register(jobType queue.JobType, h Handler) {
	if p.handlers == nil {
		p.handlers = map[queue.JobType]Handler{}
	}
	p.handlers[jobType] = h
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	for _, queueName := range p.Queues {
		for i := 0; i < concurrency; i++ {
			workerID := fmt.Sprintf("%s-%d", queueName, i)
			p.wg.Add(1)
			go p.run(ctx, queueName, workerID)
		}
	}
	if p.Logger != nil {
		p.Logger.Info("worker pool started",
			zap.Strings("queues", p.Queues),
			zap.Int("concurrency", concurrency),
		)
	}
}

// Stop waits for in-flight handlers to return; unfinished claims are covered
// by the lease timeout on restart.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.Logger != nil {
		p.Logger.Info("worker pool stopped")
	}
}

func (p *Pool) run(ctx context.Context, queueName, workerID string) {
	defer p.wg.Done()

	poll := p.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	for {
		job, err := p.Store.Claim(ctx, queueName, workerID)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			// Jittered so idle workers do not hammer the store in lockstep.
			wait := poll + time.Duration(rand.Int63n(int64(poll/2)+1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			if p.Logger != nil {
				p.Logger.Error("claim failed", zap.String("queue", queueName), zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}

		p.execute(ctx, job, workerID)
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pool) execute(ctx context.Context, job *queue.Job, workerID string) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.finish(ctx, job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}

	timeout := p.JobTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	err := handler(jobCtx, job)
	cancel()

	if p.Logger != nil && err != nil {
		p.Logger.Warn("job handler failed",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.String("worker", workerID),
			zap.Int("attempt", job.Attempts),
			zap.Error(err),
		)
	}
	p.finish(ctx, job, err)
}

func (p *Pool) finish(ctx context.Context, job *queue.Job, err error) {
	// Queue bookkeeping must survive the caller's cancellation, otherwise a
	// shutdown strands the job until its lease expires.
	ctx = context.WithoutCancel(ctx)

	if err == nil {
		if cerr := p.Store.Complete(ctx, job.ID); cerr != nil && p.Logger != nil {
			p.Logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(cerr))
		}
		return
	}

	if errors.Is(err, syncer.ErrSyncInFlight) {
		// Contention is not a failure of the job: Postpone hands back the
		// attempt the claim charged, keeping the retry budget for real errors.
		delay := p.ContentionDelay
		if delay <= 0 {
			delay = inFlightRetryDelay
		}
		if ferr := p.Store.Postpone(ctx, job.ID, delay); ferr != nil && p.Logger != nil {
			p.Logger.Error("reschedule contended job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return
	}

	permanent := p.Permanent
	if permanent == nil {
		permanent = DefaultPermanent
	}
	if permanent(err) || job.Attempts >= job.MaxAttempts {
		if kerr := p.Store.Kill(ctx, job.ID, err.Error()); kerr != nil && p.Logger != nil {
			p.Logger.Error("dead-letter job failed", zap.String("job_id", job.ID), zap.Error(kerr))
		}
		if p.Logger != nil {
			p.Logger.Error("job dead-lettered",
				zap.String("job_id", job.ID),
				zap.String("type", string(job.Type)),
				zap.Int("attempts", job.Attempts),
				zap.Error(err),
			)
		}
		if p.OnDead != nil {
			p.OnDead(ctx, job, err)
		}
		return
	}

	retryIn := p.Policy.NextDelay(job.Attempts)
	if ferr := p.Store.Fail(ctx, job.ID, err.Error(), retryIn); ferr != nil && p.Logger != nil {
		p.Logger.Error("reschedule job failed", zap.String("job_id", job.ID), zap.Error(ferr))
	}
}
