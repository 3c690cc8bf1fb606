package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"bankfeed/internal/models"
	"bankfeed/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// The merge path mutates state only through the same Tx methods the real
// store exposes, so orchestrator tests exercise the production flow.
type stubRepo struct {
	mu           sync.Mutex
	connections  map[uint]*models.Connection
	transactions map[string]models.Transaction
	statusLog    []models.ConnectionStatus

	// failUpserts, when set, is returned from UpsertTransactionsTx to
	// simulate a mid-merge storage failure.
	failUpserts error
}

func newStubRepo(conns ...*models.Connection) *stubRepo {
	s := &stubRepo{
		connections:  map[uint]*models.Connection{},
		transactions: map[string]models.Transaction{},
	}
	for _, c := range conns {
		cp := *c
		s.connections[c.ID] = &cp
	}
	return s
}

func txKey(connectionID uint, externalID string) string {
	return fmt.Sprintf("%d:%s", connectionID, externalID)
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *stubRepo) GetConnection(ctx context.Context, id uint) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *stubRepo) GetConnectionByItemID(ctx context.Context, providerItemID string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connections {
		if c.ProviderItemID == providerItemID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListConnections(ctx context.Context, userID *uint) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Connection, 0, len(s.connections))
	for _, c := range s.connections {
		if userID != nil && c.UserID != *userID {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *stubRepo) ListStaleConnections(ctx context.Context, before time.Time) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Connection
	for _, c := range s.connections {
		if c.Status != models.ConnectionConnected {
			continue
		}
		if c.LastSyncAt == nil || c.LastSyncAt.Before(before) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubRepo) SaveConnectionTx(ctx context.Context, tx *gorm.DB, c *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.connections[c.ID] = &cp
	return nil
}

func (s *stubRepo) UpdateConnectionStatus(ctx context.Context, id uint, status models.ConnectionStatus, code, msg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.LastErrorCode = code
	c.LastErrorMsg = msg
	s.statusLog = append(s.statusLog, status)
	return nil
}

func (s *stubRepo) UpsertTransactionsTx(ctx context.Context, tx *gorm.DB, items []models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts != nil {
		return s.failUpserts
	}
	for _, item := range items {
		s.transactions[txKey(item.ConnectionID, item.ExternalID)] = item
	}
	return nil
}

func (s *stubRepo) MarkTransactionsRemovedTx(ctx context.Context, tx *gorm.DB, connectionID uint, externalIDs []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range externalIDs {
		key := txKey(connectionID, id)
		item, ok := s.transactions[key]
		if !ok {
			continue
		}
		item.Removed = true
		item.RemovedAt = &at
		s.transactions[key] = item
	}
	return nil
}

func (s *stubRepo) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, item := range s.transactions {
		if item.ConnectionID != params.ConnectionID {
			continue
		}
		if item.Removed && !params.IncludeRemoved {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *stubRepo) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	items, err := s.ListTransactions(ctx, params)
	return int64(len(items)), err
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
