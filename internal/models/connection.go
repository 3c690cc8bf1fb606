package models

import (
	"time"
)

type ConnectionStatus string

const (
	ConnectionConnected     ConnectionStatus = "connected"
	ConnectionLoginRequired ConnectionStatus = "login_required"
	ConnectionError         ConnectionStatus = "error"
	ConnectionDisconnected  ConnectionStatus = "disconnected"
)

// Connection is one linked external bank account source. The cursor is the
// provider's incremental-fetch token; it is only written together with a
// committed transaction merge.
type Connection struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	UserID          uint             `gorm:"index" json:"user_id"`
	ProviderItemID  string           `gorm:"type:text;uniqueIndex" json:"provider_item_id"`
	CredentialRef   string           `gorm:"type:text" json:"-"`
	InstitutionName string           `gorm:"type:text" json:"institution_name"`
	Cursor          *string          `gorm:"type:text" json:"cursor,omitempty"`
	Status          ConnectionStatus `gorm:"type:text;index;default:connected" json:"status"`
	LastSyncAt      *time.Time       `gorm:"type:timestamptz" json:"last_sync_at,omitempty"`
	LastErrorCode   *string          `gorm:"type:text" json:"last_error_code,omitempty"`
	LastErrorMsg    *string          `gorm:"type:text" json:"last_error_msg,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (Connection) TableName() string {
	return "connections"
}

// Syncable reports whether the scheduler or a webhook may enqueue sync work
// for this connection.
func (c *Connection) Syncable() bool {
	return c.Status == ConnectionConnected || c.Status == ConnectionError
}
