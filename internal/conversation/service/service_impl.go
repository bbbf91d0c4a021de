package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/conversation/domain"
	"github.com/smallbiznis/shopassist/pkg/db"
	"github.com/smallbiznis/shopassist/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("conversation.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Append(ctx context.Context, sessionID int64, idempotencyKey string, turns ...domain.Turn) ([]domain.Message, error) {
	now := s.clock.Now()
	var key *string
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		key = &k
	}

	messages := make([]domain.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
		default:
			return nil, domain.ErrInvalidRole
		}
		if strings.TrimSpace(turn.Content) == "" {
			return nil, domain.ErrEmptyContent
		}
		messages = append(messages, domain.Message{
			ID:             s.genID.Generate().Int64(),
			SessionID:      sessionID,
			Role:           turn.Role,
			Content:        turn.Content,
			Intent:         turn.Intent,
			Success:        turn.Success,
			IdempotencyKey: key,
			CreatedAt:      now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, messages)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateAppend
		}
		return nil, err
	}
	return messages, nil
}

func (s *Service) Recent(ctx context.Context, sessionID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := s.repo.ListLatest(ctx, s.db, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *Service) History(ctx context.Context, req domain.HistoryRequest) (*domain.HistoryResponse, error) {
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, err
	}
	var afterID int64
	if cursor != nil {
		afterID = cursor.ID
	}

	limit := req.Limit()
	items, err := s.repo.ListAfter(ctx, s.db, req.SessionID, afterID, limit+1)
	if err != nil {
		return nil, err
	}
	items, pageInfo, err := pagination.Trim(items, limit, func(m domain.Message) pagination.Cursor {
		return pagination.Cursor{ID: m.ID, CreatedAt: m.CreatedAt.Format(time.RFC3339Nano)}
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.HistoryEntry, 0, len(items))
	for _, m := range items {
		entries = append(entries, domain.HistoryEntry{
			Role:      m.Role,
			Content:   m.Content,
			Intent:    m.Intent,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return &domain.HistoryResponse{Messages: entries, PageInfo: pageInfo}, nil
}

func (s *Service) FindReply(ctx context.Context, sessionID int64, idempotencyKey string) (*domain.Message, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return nil, nil
	}
	return s.repo.FindByIdempotencyKey(ctx, s.db, sessionID, domain.RoleAssistant, key)
}
