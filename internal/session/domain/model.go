package domain

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Session is a user's shopping conversation. It leaves active exactly once:
// to completed at checkout or to abandoned after inactivity. CompletedAt is
// set iff Status is completed.
type Session struct {
	ID           int64      `json:"id" gorm:"primaryKey"`
	UserID       string     `json:"user_id" gorm:"type:varchar(255);not null;index:idx_sessions_user_id"`
	Status       Status     `json:"status" gorm:"type:varchar(16);not null;index:idx_sessions_status_last_active,priority:1"`
	StartedAt    time.Time  `json:"started_at" gorm:"not null"`
	LastActiveAt time.Time  `json:"last_active_at" gorm:"not null;index:idx_sessions_status_last_active,priority:2"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	AbandonedAt  *time.Time `json:"abandoned_at,omitempty"`
}

func (Session) TableName() string { return "sessions" }

func (s *Session) Active() bool { return s != nil && s.Status == StatusActive }
