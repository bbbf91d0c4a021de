package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/resilience"
	"github.com/smallbiznis/shopassist/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const partitionName = "session"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Holder  *config.AssistantConfigHolder
	Clock   clock.Clock
	Metrics *obsmetrics.AssistantMetrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	genID   *snowflake.Node
	clock   clock.Clock
	breaker *resilience.CircuitBreaker
}

func New(p Params) domain.Service {
	cfg := p.Holder.Get().Breaker
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("session.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		breaker: resilience.NewCircuitBreaker(partitionName, cfg.FailureThreshold, cfg.Cooldown,
			resilience.WithClock(p.Clock),
			resilience.WithMetrics(p.Metrics),
			resilience.WithFailurePredicate(isPartitionFailure),
			resilience.WithSettings(func() (int, time.Duration) {
				b := p.Holder.Get().Breaker
				return b.FailureThreshold, b.Cooldown
			}),
		),
	}
}

func isPartitionFailure(err error) bool {
	return err != nil && !domain.IsBusinessErr(err) && !errors.Is(err, context.Canceled)
}

func (s *Service) Create(ctx context.Context, userID string) (*domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:           s.genID.Generate().Int64(),
		UserID:       userID,
		Status:       domain.StatusActive,
		StartedAt:    now,
		LastActiveAt: now,
	}
	err := s.breaker.Execute(func() error {
		return s.repo.Create(ctx, s.db, session)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Session, error) {
	return resilience.Do(s.breaker, func() (*domain.Session, error) {
		return s.find(ctx, id)
	})
}

func (s *Service) find(ctx context.Context, id int64) (*domain.Session, error) {
	session, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

func (s *Service) Complete(ctx context.Context, id int64) (*domain.Session, error) {
	return resilience.Do(s.breaker, func() (*domain.Session, error) {
		rows, err := s.repo.Complete(ctx, s.db, id, s.clock.Now())
		if err != nil {
			return nil, err
		}
		session, err := s.find(ctx, id)
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return session, domain.ErrNotActive
		}
		s.log.Info("session completed", zap.String("session_id", snowflake.ID(id).String()))
		return session, nil
	})
}

func (s *Service) Touch(ctx context.Context, id int64) error {
	return s.breaker.Execute(func() error {
		return s.repo.Touch(ctx, s.db, id, s.clock.Now())
	})
}

func (s *Service) AbandonIdle(ctx context.Context, idleSince time.Time) (int64, error) {
	return resilience.Do(s.breaker, func() (int64, error) {
		return s.repo.AbandonIdle(ctx, s.db, idleSince, s.clock.Now())
	})
}
