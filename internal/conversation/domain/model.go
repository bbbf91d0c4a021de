package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one persisted turn of a session's conversation.
type Message struct {
	ID             int64     `json:"id" gorm:"primaryKey"`
	SessionID      int64     `json:"session_id" gorm:"not null;index:idx_messages_session_id;uniqueIndex:ux_messages_idempotency,priority:1"`
	Role           Role      `json:"role" gorm:"type:varchar(16);not null;uniqueIndex:ux_messages_idempotency,priority:2"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	Intent         string    `json:"intent,omitempty" gorm:"type:varchar(32)"`
	Success        *bool     `json:"success,omitempty"`
	IdempotencyKey *string   `json:"-" gorm:"type:varchar(128);uniqueIndex:ux_messages_idempotency,priority:3"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null"`
}

func (Message) TableName() string { return "messages" }
