package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/shopassist/internal/cart/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, sessionID int64) ([]domain.CartLine, error) {
	var items []domain.CartLine
	err := db.WithContext(ctx).
		Where("session_id = ? AND archived_at IS NULL", sessionID).
		Order("added_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListArchived(ctx context.Context, db *gorm.DB, sessionID int64) ([]domain.CartLine, error) {
	var items []domain.CartLine
	err := db.WithContext(ctx).
		Where("session_id = ? AND archived_at IS NOT NULL", sessionID).
		Order("added_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, sessionID, productID int64) (*domain.CartLine, error) {
	var items []domain.CartLine
	err := db.WithContext(ctx).
		Where("session_id = ? AND product_id = ? AND archived_at IS NULL", sessionID, productID).
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

// AddQuantity inserts line or, when (session_id, product_id) already
// exists, increments the stored quantity in the same statement.
func (r *repo) AddQuantity(ctx context.Context, db *gorm.DB, line *domain.CartLine, delta int64) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity":   gorm.Expr("cart_lines.quantity + ?", delta),
				"version":    gorm.Expr("cart_lines.version + 1"),
				"updated_at": line.UpdatedAt,
			}),
		}).
		Create(line).Error
}

// SetQuantity writes quantity only if the line still has the version it
// was read with.
func (r *repo) SetQuantity(ctx context.Context, db *gorm.DB, line *domain.CartLine, quantity int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE cart_lines
		 SET quantity = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND archived_at IS NULL`,
		quantity,
		now,
		line.ID,
		line.Version,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, sessionID, productID int64) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM cart_lines WHERE session_id = ? AND product_id = ? AND archived_at IS NULL`,
		sessionID,
		productID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Archive(ctx context.Context, db *gorm.DB, sessionID int64, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE cart_lines SET archived_at = ?, updated_at = ? WHERE session_id = ? AND archived_at IS NULL`,
		now,
		now,
		sessionID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) SessionsWithActiveLines(ctx context.Context, db *gorm.DB, limit int) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.CartLine{}).
		Distinct("session_id").
		Where("archived_at IS NULL").
		Order("session_id ASC").
		Limit(limit).
		Pluck("session_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
