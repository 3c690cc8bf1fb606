package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"bankfeed/internal/models"
	"bankfeed/internal/queue"
	"bankfeed/internal/repository"
)

var (
	ErrBadSignature      = errors.New("webhook: invalid signature")
	ErrMalformedPayload  = errors.New("webhook: malformed payload")
	ErrUnknownConnection = errors.New("webhook: unknown connection")
)

// Event is the provider's push notification envelope.
type Event struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	ItemID  string `json:"item_id"`
	EventID string `json:"event_id"`
}

func (e Event) dedupKey() string {
	return e.Event + ":" + e.Code + ":" + e.ItemID + ":" + e.EventID
}

// credentialError reports provider events that mean the user has to
// re-authenticate; these never trigger a sync.
func (e Event) credentialError() bool {
	switch e.Code {
	case "ITEM_LOGIN_REQUIRED", "LOGIN_ERROR", "INVALID_CREDENTIALS":
		return true
	}
	return e.Event == "item/login_required"
}

type Receipt struct {
	JobID string `json:"job_id"`
}

// Ingestor verifies, deduplicates and dispatches inbound webhooks. Receive
// only checks the signature and enqueues; the parse, the audit row and the
// sync fan-out run on the worker pool so the HTTP endpoint answers fast.
// Every verified delivery is enqueued, redeliveries included: the trail in
// Process must see them all.
type Ingestor struct {
	Secret      string
	Repo        repository.Repository
	Store       queue.Store
	SyncQueue   string
	NotifyQueue string
	Logger      *zap.Logger
}

func (i *Ingestor) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(i.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (i *Ingestor) Receive(ctx context.Context, body []byte, signature string) (Receipt, error) {
	if !i.VerifySignature(body, signature) {
		return Receipt{}, ErrBadSignature
	}

	jobID, err := i.Store.Enqueue(ctx, i.SyncQueue, queue.Job{
		Type:    queue.JobProcessWebhook,
		Payload: json.RawMessage(body),
	}, queue.EnqueueOptions{
		Priority: queue.PriorityWebhook,
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{JobID: jobID}, nil
}

// Process runs on the worker pool with the raw delivery body. It records the
// event (duplicates included, the trail is append-only) and enqueues at most
// one sync job per distinct event.
func (i *Ingestor) Process(ctx context.Context, body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil || event.Event == "" || event.ItemID == "" {
		return fmt.Errorf("%w: %s", ErrMalformedPayload, string(body))
	}

	conn, err := i.Repo.GetConnectionByItemID(ctx, event.ItemID)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("%w: item %s", ErrUnknownConnection, event.ItemID)
	}

	dedup := event.dedupKey()
	seen, err := i.Repo.WebhookEventSeen(ctx, dedup)
	if err != nil {
		return err
	}

	record := &models.WebhookEvent{
		EventType:      event.Event,
		EventCode:      event.Code,
		ProviderItemID: event.ItemID,
		ConnectionID:   &conn.ID,
		Payload:        datatypes.JSON(body),
		DedupKey:       dedup,
		Duplicate:      seen,
		ReceivedAt:     time.Now().UTC(),
	}
	if err := i.Repo.InsertWebhookEvent(ctx, record); err != nil {
		return err
	}
	if seen {
		if i.Logger != nil {
			i.Logger.Debug("duplicate webhook event", zap.String("dedup_key", dedup))
		}
		return nil
	}

	if event.credentialError() {
		code := event.Code
		msg := "provider reported a credential error"
		if err := i.Repo.UpdateConnectionStatus(ctx, conn.ID, models.ConnectionLoginRequired, &code, &msg); err != nil {
			return err
		}
		i.enqueueLoginRequiredNotice(ctx, conn)
		return nil
	}

	if !conn.Syncable() {
		if i.Logger != nil {
			i.Logger.Info("webhook for unsyncable connection",
				zap.Uint("connection_id", conn.ID),
				zap.String("status", string(conn.Status)),
			)
		}
		return nil
	}

	_, err = i.Store.Enqueue(ctx, i.SyncQueue, queue.Job{
		Type:         queue.JobSync,
		ConnectionID: conn.ID,
	}, queue.EnqueueOptions{
		Priority: queue.PriorityWebhook,
		DedupKey: "sync:" + dedup,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return nil
	}
	return err
}

type NoticePayload struct {
	UserID       uint   `json:"user_id"`
	ConnectionID uint   `json:"connection_id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Body         string `json:"body"`
}

func (i *Ingestor) enqueueLoginRequiredNotice(ctx context.Context, conn *models.Connection) {
	if i.NotifyQueue == "" {
		return
	}
	payload, err := json.Marshal(NoticePayload{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Kind:         "login_required",
		Title:        "Bank connection needs attention",
		Body:         fmt.Sprintf("%s asked you to sign in again before syncing can continue.", conn.InstitutionName),
	})
	if err != nil {
		return
	}
	_, err = i.Store.Enqueue(ctx, i.NotifyQueue, queue.Job{
		Type:         queue.JobNotify,
		ConnectionID: conn.ID,
		Payload:      payload,
	}, queue.EnqueueOptions{
		Priority: queue.PriorityManual,
		DedupKey: fmt.Sprintf("login-required:%d", conn.ID),
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) && i.Logger != nil {
		i.Logger.Warn("enqueue login notice failed", zap.Uint("connection_id", conn.ID), zap.Error(err))
	}
}
