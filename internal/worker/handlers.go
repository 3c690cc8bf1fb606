package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"bankfeed/internal/models"
	"bankfeed/internal/notify"
	"bankfeed/internal/queue"
	"bankfeed/internal/repository"
	"bankfeed/internal/syncer"
	"bankfeed/internal/webhook"
)

// SyncHandler runs one orchestrator cycle for the job's connection.
func SyncHandler(o *syncer.Orchestrator) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		if job.ConnectionID == 0 {
			return fmt.Errorf("%w: sync job without connection id", webhook.ErrMalformedPayload)
		}
		_, err := o.RunSync(ctx, job.ConnectionID)
		return err
	}
}

// WebhookHandler finishes the deferred half of webhook ingestion.
func WebhookHandler(i *webhook.Ingestor) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		return i.Process(ctx, job.Payload)
	}
}

// NotifyHandler delivers a user notice through the notification service.
func NotifyHandler(svc *notify.Service) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var notice webhook.NoticePayload
		if err := json.Unmarshal(job.Payload, &notice); err != nil {
			return fmt.Errorf("%w: notify payload: %v", webhook.ErrMalformedPayload, err)
		}
		return svc.Send(ctx, notify.Notice{
			UserID:       notice.UserID,
			ConnectionID: notice.ConnectionID,
			Kind:         notice.Kind,
			Title:        notice.Title,
			Body:         notice.Body,
		})
	}
}

// DeadLetterReporter surfaces exhausted sync jobs on the connection record so
// the failure is visible without digging through the dead set.
type DeadLetterReporter struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (r *DeadLetterReporter) Report(ctx context.Context, job *queue.Job, err error) {
	if job.Type != queue.JobSync || job.ConnectionID == 0 {
		return
	}
	if syncer.Permanent(err) {
		// The orchestrator already set login_required; keep that status.
		return
	}
	code := "sync_failed"
	msg := err.Error()
	if uerr := r.Repo.UpdateConnectionStatus(ctx, job.ConnectionID, models.ConnectionError, &code, &msg); uerr != nil && r.Logger != nil {
		r.Logger.Error("record dead-lettered sync failed",
			zap.Uint("connection_id", job.ConnectionID),
			zap.Error(uerr),
		)
	}
}
