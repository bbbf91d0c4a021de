package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, messages []Message) error
	ListAfter(ctx context.Context, db *gorm.DB, sessionID, afterID int64, limit int) ([]Message, error)
	ListLatest(ctx context.Context, db *gorm.DB, sessionID int64, limit int) ([]Message, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, sessionID int64, role Role, key string) (*Message, error)
}
