package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB, sessionID int64) ([]CartLine, error)
	ListArchived(ctx context.Context, db *gorm.DB, sessionID int64) ([]CartLine, error)
	FindActive(ctx context.Context, db *gorm.DB, sessionID, productID int64) (*CartLine, error)
	AddQuantity(ctx context.Context, db *gorm.DB, line *CartLine, delta int64) error
	SetQuantity(ctx context.Context, db *gorm.DB, line *CartLine, quantity int64, now time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, sessionID, productID int64) (int64, error)
	Archive(ctx context.Context, db *gorm.DB, sessionID int64, now time.Time) (int64, error)
	SessionsWithActiveLines(ctx context.Context, db *gorm.DB, limit int) ([]int64, error)
}
