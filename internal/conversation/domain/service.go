package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/shopassist/pkg/db/pagination"
)

type Service interface {
	// Append stores one exchange atomically.
	Append(ctx context.Context, sessionID int64, idempotencyKey string, turns ...Turn) ([]Message, error)
	// Recent returns the last limit messages in chronological order.
	Recent(ctx context.Context, sessionID int64, limit int) ([]Message, error)
	History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error)
	// FindReply returns the assistant message recorded for an idempotency key.
	FindReply(ctx context.Context, sessionID int64, idempotencyKey string) (*Message, error)
}

type Turn struct {
	Role    Role
	Content string
	Intent  string
	Success *bool
}

type HistoryRequest struct {
	SessionID int64
	pagination.Pagination
}

type HistoryEntry struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Intent    string `json:"intent,omitempty"`
	Timestamp string `json:"timestamp"`
}

type HistoryResponse struct {
	Messages []HistoryEntry     `json:"messages"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidRole     = errors.New("invalid_message_role")
	ErrEmptyContent    = errors.New("empty_message_content")
	ErrDuplicateAppend = errors.New("duplicate_message")
)
