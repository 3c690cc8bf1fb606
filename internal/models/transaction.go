package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a locally merged copy of a provider transaction. The
// (connection_id, external_id) pair is the natural key: re-ingesting the same
// external id updates the row in place.
type Transaction struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ConnectionID      uint            `gorm:"not null;uniqueIndex:ux_transactions_conn_external,priority:1;index" json:"connection_id"`
	ExternalID        string          `gorm:"type:text;not null;uniqueIndex:ux_transactions_conn_external,priority:2" json:"external_id"`
	AccountExternalID string          `gorm:"type:text;index" json:"account_external_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,2)" json:"amount"`
	CurrencyCode      string          `gorm:"type:text" json:"currency_code"`
	Date              time.Time       `gorm:"type:timestamptz;index" json:"date"`
	Description       string          `gorm:"type:text" json:"description"`
	Category          string          `gorm:"type:text" json:"category"`
	Pending           bool            `json:"pending"`
	Removed           bool            `gorm:"index" json:"removed"`
	RemovedAt         *time.Time      `gorm:"type:timestamptz" json:"removed_at,omitempty"`
	SyncedAt          time.Time       `gorm:"type:timestamptz" json:"synced_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
