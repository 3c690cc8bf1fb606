package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bankfeed/internal/models"
	"bankfeed/internal/queue"
	"bankfeed/internal/repository"
)

// Scheduler enqueues sync work; it never calls the orchestrator directly, so
// all execution stays serialized through the job store.
type Scheduler struct {
	Repo      repository.Repository
	Store     queue.Store
	Logger    *zap.Logger
	SyncQueue string
	Staleness time.Duration
}

type Summary struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// RunDue enqueues a normal-priority sync job for every connected connection
// whose last successful sync is older than the staleness threshold. A
// per-connection dedup key keeps overlapping ticks from double-enqueueing.
func (s *Scheduler) RunDue(ctx context.Context) (Summary, error) {
	staleness := s.Staleness
	if staleness <= 0 {
		staleness = 6 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-staleness)

	conns, err := s.Repo.ListStaleConnections(ctx, cutoff)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Scanned: len(conns)}
	for _, conn := range conns {
		_, err := s.Store.Enqueue(ctx, s.SyncQueue, queue.Job{
			Type:         queue.JobSync,
			ConnectionID: conn.ID,
		}, queue.EnqueueOptions{
			Priority: queue.PriorityScheduled,
			DedupKey: fmt.Sprintf("scheduled:%d", conn.ID),
		})
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			summary.Skipped++
		case err != nil:
			summary.Errors++
			if s.Logger != nil {
				s.Logger.Error("enqueue scheduled sync failed", zap.Uint("connection_id", conn.ID), zap.Error(err))
			}
		default:
			summary.Enqueued++
		}
	}

	if s.Logger != nil {
		s.Logger.Info("scheduler tick",
			zap.Int("scanned", summary.Scanned),
			zap.Int("enqueued", summary.Enqueued),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errors", summary.Errors),
		)
	}
	return summary, nil
}

var ErrConnectionNotSyncable = errors.New("scheduler: connection not found or not syncable")

// EnqueueSync is the on-demand trigger for a single connection.
func (s *Scheduler) EnqueueSync(ctx context.Context, connectionID uint, priority int) (string, error) {
	conn, err := s.Repo.GetConnection(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if conn == nil || conn.Status == models.ConnectionDisconnected {
		return "", ErrConnectionNotSyncable
	}
	return s.Store.Enqueue(ctx, s.SyncQueue, queue.Job{
		Type:         queue.JobSync,
		ConnectionID: connectionID,
	}, queue.EnqueueOptions{Priority: priority})
}
