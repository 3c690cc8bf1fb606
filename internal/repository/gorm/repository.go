package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bankfeed/internal/models"
	"bankfeed/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Connections ------------------------------------------------------------

func (s *Store) GetConnection(ctx context.Context, id uint) (*models.Connection, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Connection
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetConnectionByItemID(ctx context.Context, providerItemID string) (*models.Connection, error) {
	if s == nil || s.db == nil || providerItemID == "" {
		return nil, nil
	}
	var item models.Connection
	err := s.db.WithContext(ctx).Where("provider_item_id = ?", providerItemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListConnections(ctx context.Context, userID *uint) ([]models.Connection, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Connection{})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	var items []models.Connection
	if err := query.Order("id").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStaleConnections(ctx context.Context, before time.Time) ([]models.Connection, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Connection
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ConnectionConnected).
		Where("last_sync_at IS NULL OR last_sync_at < ?", before).
		Order("last_sync_at ASC NULLS FIRST").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveConnectionTx(ctx context.Context, tx *gorm.DB, c *models.Connection) error {
	if s == nil || c == nil {
		return nil
	}
	db := tx
	if db == nil {
		db = s.db
	}
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).Save(c).Error
}

func (s *Store) UpdateConnectionStatus(ctx context.Context, id uint, status models.ConnectionStatus, code, msg *string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"last_error_code": code,
			"last_error_msg":  msg,
		}).Error
}

// --- Transactions -----------------------------------------------------------

func (s *Store) UpsertTransactionsTx(ctx context.Context, tx *gorm.DB, items []models.Transaction) error {
	if s == nil || len(items) == 0 {
		return nil
	}
	db := tx
	if db == nil {
		db = s.db
	}
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_external_id",
			"amount",
			"currency_code",
			"date",
			"description",
			"category",
			"pending",
			"removed",
			"removed_at",
			"synced_at",
			"updated_at",
		}),
	}).Create(&items).Error
}

func (s *Store) MarkTransactionsRemovedTx(ctx context.Context, tx *gorm.DB, connectionID uint, externalIDs []string, at time.Time) error {
	if s == nil || len(externalIDs) == 0 {
		return nil
	}
	db := tx
	if db == nil {
		db = s.db
	}
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).Model(&models.Transaction{}).
		Where("connection_id = ?", connectionID).
		Where("external_id IN ?", externalIDs).
		Updates(map[string]any{
			"removed":    true,
			"removed_at": at,
			"synced_at":  at,
		}).Error
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.transactionsQuery(ctx, params)
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	var items []models.Transaction
	if err := query.Order("date DESC, id DESC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.transactionsQuery(ctx, params).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) transactionsQuery(ctx context.Context, params repository.ListTransactionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("connection_id = ?", params.ConnectionID)
	if !params.IncludeRemoved {
		query = query.Where("removed = ?", false)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("date >= ?", *params.Since)
	}
	return query
}

// --- Webhook events ---------------------------------------------------------

func (s *Store) InsertWebhookEvent(ctx context.Context, item *models.WebhookEvent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	// Duplicates are recorded too; the trail is append-only.
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) WebhookEventSeen(ctx context.Context, dedupKey string) (bool, error) {
	if s == nil || s.db == nil || dedupKey == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("dedup_key = ?", dedupKey).
		Where("duplicate = ?", false).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Notifications ----------------------------------------------------------

func (s *Store) InsertNotification(ctx context.Context, item *models.Notification) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) MarkNotificationSent(ctx context.Context, id uint, at time.Time, sendErr *string) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{"last_error": sendErr}
	if sendErr == nil {
		updates["sent_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(updates).Error
}
