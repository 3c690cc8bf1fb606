package models

import (
	"time"
)

type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index" json:"user_id"`
	Kind      string     `gorm:"type:text;index" json:"kind"`
	Title     string     `gorm:"type:text" json:"title"`
	Body      string     `gorm:"type:text" json:"body"`
	Channel   string     `gorm:"type:text" json:"channel"`
	SentAt    *time.Time `gorm:"type:timestamptz" json:"sent_at,omitempty"`
	LastError *string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
