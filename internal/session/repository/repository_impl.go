package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/shopassist/internal/session/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, session *domain.Session) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sessions (id, user_id, status, started_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID,
		session.UserID,
		session.Status,
		session.StartedAt,
		session.LastActiveAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, status, started_at, last_active_at, completed_at, abandoned_at
		 FROM sessions WHERE id = ?`,
		id,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == 0 {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id int64, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sessions SET status = ?, completed_at = ?, last_active_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		at,
		at,
		id,
		domain.StatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sessions SET last_active_at = ? WHERE id = ? AND status = ?`,
		at,
		id,
		domain.StatusActive,
	).Error
}

func (r *repo) AbandonIdle(ctx context.Context, db *gorm.DB, idleSince, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE sessions SET status = ?, abandoned_at = ?
		 WHERE status = ? AND last_active_at < ?`,
		domain.StatusAbandoned,
		at,
		domain.StatusActive,
		idleSince,
	)
	return res.RowsAffected, res.Error
}
