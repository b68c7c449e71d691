package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SessionModel struct {
	ID            string `gorm:"primaryKey;size:26"`
	UserID        string `gorm:"size:64;not null;uniqueIndex:idx_chat_sessions_user_book,priority:1"`
	BookID        string `gorm:"size:64;not null;uniqueIndex:idx_chat_sessions_user_book,priority:2"`
	LastMessageAt *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (SessionModel) TableName() string { return "chat_sessions" }

// MessageModel keeps an auto-increment Seq so rows sharing a created_at
// timestamp still read back in insertion order.
type MessageModel struct {
	Seq       uint64         `gorm:"primaryKey;autoIncrement"`
	ID        string         `gorm:"size:26;not null;uniqueIndex"`
	SessionID string         `gorm:"size:26;not null;index:idx_chat_messages_session_order,priority:1"`
	Role      string         `gorm:"size:16;not null"`
	Content   string         `gorm:"type:text;not null"`
	Metadata  datatypes.JSON
	CreatedAt time.Time      `gorm:"not null;index:idx_chat_messages_session_order,priority:2"`
}

func (MessageModel) TableName() string { return "chat_messages" }

type InsightModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:64;not null;index:idx_chat_insights_scope,priority:1"`
	BookID    string    `gorm:"size:64;not null;index:idx_chat_insights_scope,priority:2"`
	Title     string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (InsightModel) TableName() string { return "chat_insights" }
