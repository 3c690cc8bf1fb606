package db

import (
	"bankfeed/internal/models"
)

// AutoMigrate creates or alters the sync engine's tables: connections,
// merged transactions, the webhook audit trail and notifications.
func (d *DB) AutoMigrate() error {
	if d == nil || d.Gorm == nil {
		return nil
	}

	return d.Gorm.AutoMigrate(
		&models.Connection{},
		&models.Transaction{},
		&models.WebhookEvent{},
		&models.Notification{},
	)
}
