package webhook

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bankfeed/internal/models"
	"bankfeed/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Only the connection lookup and webhook-event methods matter here.
type stubRepo struct {
	connections map[string]*models.Connection
	events      []models.WebhookEvent
	statusLog   []models.ConnectionStatus
}

func newStubRepo(conns ...*models.Connection) *stubRepo {
	s := &stubRepo{connections: map[string]*models.Connection{}}
	for _, c := range conns {
		cp := *c
		s.connections[c.ProviderItemID] = &cp
	}
	return s
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) GetConnection(ctx context.Context, id uint) (*models.Connection, error) {
	for _, c := range s.connections {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetConnectionByItemID(ctx context.Context, providerItemID string) (*models.Connection, error) {
	c, ok := s.connections[providerItemID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *stubRepo) ListConnections(ctx context.Context, userID *uint) ([]models.Connection, error) {
	return nil, nil
}

func (s *stubRepo) ListStaleConnections(ctx context.Context, before time.Time) ([]models.Connection, error) {
	return nil, nil
}

func (s *stubRepo) SaveConnectionTx(ctx context.Context, tx *gorm.DB, c *models.Connection) error {
	return nil
}

func (s *stubRepo) UpdateConnectionStatus(ctx context.Context, id uint, status models.ConnectionStatus, code, msg *string) error {
	for _, c := range s.connections {
		if c.ID == id {
			c.Status = status
			c.LastErrorCode = code
			c.LastErrorMsg = msg
		}
	}
	s.statusLog = append(s.statusLog, status)
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
	s.events = append(s.events, *item)
	return nil
}

func (s *stubRepo) WebhookEventSeen(ctx context.Context, dedupKey string) (bool, error) {
	for _, e := range s.events {
		if e.DedupKey == dedupKey && !e.Duplicate {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) InsertNotification(ctx context.Context, item *models.Notification) error {
	return nil
}

func (s *stubRepo) MarkNotificationSent(ctx context.Context, id uint, at time.Time, sendErr *string) error {
	return nil
}
