package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is an append-only audit row for every verified inbound
// webhook delivery, duplicates included. DedupKey recognizes provider
// redeliveries of the same event.
type WebhookEvent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	EventType      string         `gorm:"type:text;index" json:"event_type"`
	EventCode      string         `gorm:"type:text" json:"event_code"`
	ProviderItemID string         `gorm:"type:text;index" json:"provider_item_id"`
	ConnectionID   *uint          `gorm:"index" json:"connection_id,omitempty"`
	Payload        datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	DedupKey       string         `gorm:"type:text;index" json:"dedup_key"`
	Duplicate      bool           `json:"duplicate"`
	ReceivedAt     time.Time      `gorm:"type:timestamptz" json:"received_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
