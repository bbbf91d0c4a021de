package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, session *Session) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Session, error)
	Complete(ctx context.Context, db *gorm.DB, id int64, at time.Time) (int64, error)
	Touch(ctx context.Context, db *gorm.DB, id int64, at time.Time) error
	AbandonIdle(ctx context.Context, db *gorm.DB, idleSince, at time.Time) (int64, error)
}
