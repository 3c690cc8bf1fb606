package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"bankfeed/internal/models"
	"bankfeed/internal/queue"
	"bankfeed/internal/repository"
)

// stubRepo is a test-only repository.Repository; the scheduler only reads
// connections.
type stubRepo struct {
	connections []models.Connection
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) GetConnection(ctx context.Context, id uint) (*models.Connection, error) {
	for _, c := range s.connections {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetConnectionByItemID(ctx context.Context, providerItemID string) (*models.Connection, error) {
	return nil, nil
}

func (s *stubRepo) ListConnections(ctx context.Context, userID *uint) ([]models.Connection, error) {
	return s.connections, nil
}

func (s *stubRepo) ListStaleConnections(ctx context.Context, before time.Time) ([]models.Connection, error) {
	var out []models.Connection
	for _, c := range s.connections {
		if c.Status != models.ConnectionConnected {
			continue
		}
		if c.LastSyncAt == nil || c.LastSyncAt.Before(before) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubRepo) SaveConnectionTx(ctx context.Context, tx *gorm.DB, c *models.Connection) error {
	return nil
}

func (s *stubRepo) UpdateConnectionStatus(ctx context.Context, id uint, status models.ConnectionStatus, code, msg *string) error {
	return nil
}

func (s *stubRepo) UpsertTransactionsTx(ctx context.Context, tx *gorm.DB, items []models.Transaction) error {
	return nil
}

func (s *stubRepo) MarkTransactionsRemovedTx(ctx context.Context, tx *gorm.DB, connectionID uint, externalIDs []string, at time.Time) error {
	return nil
}

func (s *stubRepo) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	return 0, nil
}

func (s *stubRepo) InsertWebhookEvent(ctx context.Context, item *models.WebhookEvent) error {
	return nil
}

func (s *stubRepo) WebhookEventSeen(ctx context.Context, dedupKey string) (bool, error) {
	return false, nil
}

func (s *stubRepo) InsertNotification(ctx context.Context, item *models.Notification) error {
	return nil
}

func (s *stubRepo) MarkNotificationSent(ctx context.Context, id uint, at time.Time, sendErr *string) error {
	return nil
}

func ts(t time.Time) *time.Time { return &t }

func TestRunDue_EnqueuesOnlyStaleConnectedConnections(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{connections: []models.Connection{
		{ID: 1, Status: models.ConnectionConnected, LastSyncAt: ts(now.Add(-7 * time.Hour))},
		{ID: 2, Status: models.ConnectionConnected, LastSyncAt: ts(now.Add(-time.Hour))},
		{ID: 3, Status: models.ConnectionConnected},
		{ID: 4, Status: models.ConnectionLoginRequired, LastSyncAt: ts(now.Add(-24 * time.Hour))},
	}}
	store := queue.NewMemoryStore(queue.Options{})
	s := &Scheduler{Repo: repo, Store: store, SyncQueue: "sync", Staleness: 6 * time.Hour}

	summary, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if summary.Scanned != 2 || summary.Enqueued != 2 || summary.Skipped != 0 {
		t.Fatalf("summary: %+v", summary)
	}

	seen := map[uint]bool{}
	for i := 0; i < 2; i++ {
		job, err := store.Claim(context.Background(), "sync", "w1")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if job.Type != queue.JobSync || job.Priority != queue.PriorityScheduled {
			t.Fatalf("job: %+v", job)
		}
		seen[job.ConnectionID] = true
	}
	if !seen[1] || !seen[3] {
		t.Fatalf("enqueued connections: %v", seen)
	}
}

func TestRunDue_OverlappingTicksDeduplicate(t *testing.T) {
	now := time.Now().UTC()
	repo := &stubRepo{connections: []models.Connection{
		{ID: 1, Status: models.ConnectionConnected, LastSyncAt: ts(now.Add(-10 * time.Hour))},
	}}
	store := queue.NewMemoryStore(queue.Options{})
	s := &Scheduler{Repo: repo, Store: store, SyncQueue: "sync", Staleness: 6 * time.Hour}

	first, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	second, err := s.RunDue(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if first.Enqueued != 1 || second.Enqueued != 0 || second.Skipped != 1 {
		t.Fatalf("summaries: %+v %+v", first, second)
	}

	stats, _ := store.Stats(context.Background(), "sync")
	if stats.Waiting != 1 {
		t.Fatalf("queue after two ticks: %+v", stats)
	}
}

func TestEnqueueSync_RefusesMissingOrDisconnected(t *testing.T) {
	repo := &stubRepo{connections: []models.Connection{
		{ID: 1, Status: models.ConnectionDisconnected},
		{ID: 2, Status: models.ConnectionConnected},
	}}
	store := queue.NewMemoryStore(queue.Options{})
	s := &Scheduler{Repo: repo, Store: store, SyncQueue: "sync"}
	ctx := context.Background()

	if _, err := s.EnqueueSync(ctx, 1, queue.PriorityManual); !errors.Is(err, ErrConnectionNotSyncable) {
		t.Fatalf("disconnected: got %v", err)
	}
	if _, err := s.EnqueueSync(ctx, 99, queue.PriorityManual); !errors.Is(err, ErrConnectionNotSyncable) {
		t.Fatalf("missing: got %v", err)
	}

	jobID, err := s.EnqueueSync(ctx, 2, queue.PriorityManual)
	if err != nil || jobID == "" {
		t.Fatalf("connected: %v %q", err, jobID)
	}
	job, err := store.Claim(ctx, "sync", "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.ConnectionID != 2 || job.Priority != queue.PriorityManual {
		t.Fatalf("job: %+v", job)
	}
}
