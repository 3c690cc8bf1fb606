package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bankfeed/internal/models"
)

// Repository is the persistence surface used by the sync engine. Merge-path
// methods take an explicit *gorm.DB so a whole sync cycle (transaction upserts,
// removals and the cursor advance) commits as one unit.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Connections
	GetConnection(ctx context.Context, id uint) (*models.Connection, error)
	GetConnectionByItemID(ctx context.Context, providerItemID string) (*models.Connection, error)
	ListConnections(ctx context.Context, userID *uint) ([]models.Connection, error)
	ListStaleConnections(ctx context.Context, before time.Time) ([]models.Connection, error)
	SaveConnectionTx(ctx context.Context, tx *gorm.DB, c *models.Connection) error
	UpdateConnectionStatus(ctx context.Context, id uint, status models.ConnectionStatus, code, msg *string) error

	// Transactions (merge path)
	UpsertTransactionsTx(ctx context.Context, tx *gorm.DB, items []models.Transaction) error
	MarkTransactionsRemovedTx(ctx context.Context, tx *gorm.DB, connectionID uint, externalIDs []string, at time.Time) error
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, params ListTransactionsParams) (int64, error)

	// Webhook events (append-only)
	InsertWebhookEvent(ctx context.Context, item *models.WebhookEvent) error
	WebhookEventSeen(ctx context.Context, dedupKey string) (bool, error)

	// Notifications
	InsertNotification(ctx context.Context, item *models.Notification) error
	MarkNotificationSent(ctx context.Context, id uint, at time.Time, sendErr *string) error
}

type ListTransactionsParams struct {
	ConnectionID   uint
	IncludeRemoved bool
	Since          *time.Time
	Limit          int
	Offset         int
}
