package repository

import (
	"context"

	"github.com/smallbiznis/shopassist/internal/conversation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&messages).Error
}

func (r *repo) ListAfter(ctx context.Context, db *gorm.DB, sessionID, afterID int64, limit int) ([]domain.Message, error) {
	var items []domain.Message
	err := db.WithContext(ctx).
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListLatest(ctx context.Context, db *gorm.DB, sessionID int64, limit int) ([]domain.Message, error) {
	var items []domain.Message
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, sessionID int64, role domain.Role, key string) (*domain.Message, error) {
	var items []domain.Message
	err := db.WithContext(ctx).
		Where("session_id = ? AND role = ? AND idempotency_key = ?", sessionID, role, key).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}
