package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Get(ctx context.Context, id int64) (*Session, error)
	Create(ctx context.Context, userID string) (*Session, error)
	// Complete moves an active session to completed. Any other status
	// yields ErrNotActive and leaves the row untouched.
	Complete(ctx context.Context, id int64) (*Session, error)
	Touch(ctx context.Context, id int64) error
	AbandonIdle(ctx context.Context, idleSince time.Time) (int64, error)
}

var (
	ErrNotFound      = errors.New("session_not_found")
	ErrNotActive     = errors.New("session_not_active")
	ErrInvalidUserID = errors.New("invalid_user_id")
)

func IsBusinessErr(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrInvalidUserID)
}
