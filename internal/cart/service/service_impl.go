package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shopassist/internal/cart/domain"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/resilience"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const partitionName = "cart"

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
		log:   p.Log.Named("cart.service"),
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

func (s *Service) Get(ctx context.Context, sessionID int64) ([]domain.CartLine, error) {
	return resilience.Do(s.breaker, func() ([]domain.CartLine, error) {
		return s.repo.ListActive(ctx, s.db, sessionID)
	})
}

func (s *Service) Archived(ctx context.Context, sessionID int64) ([]domain.CartLine, error) {
	return resilience.Do(s.breaker, func() ([]domain.CartLine, error) {
		return s.repo.ListArchived(ctx, s.db, sessionID)
	})
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.CartLine, error) {
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	switch req.Mode {
	case domain.ModeDelta:
		return resilience.Do(s.breaker, func() (*domain.CartLine, error) {
			return s.add(ctx, req)
		})
	case domain.ModeAbsolute:
		return resilience.Do(s.breaker, func() (*domain.CartLine, error) {
			return s.set(ctx, req)
		})
	default:
		return nil, domain.ErrInvalidMode
	}
}

func (s *Service) add(ctx context.Context, req domain.UpsertRequest) (*domain.CartLine, error) {
	now := s.clock.Now()
	line := &domain.CartLine{
		ID:        s.genID.Generate().Int64(),
		SessionID: req.SessionID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Version:   1,
		AddedAt:   now,
		UpdatedAt: now,
	}
	if err := s.repo.AddQuantity(ctx, s.db, line, req.Quantity); err != nil {
		return nil, err
	}
	stored, err := s.repo.FindActive(ctx, s.db, req.SessionID, req.ProductID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		// The line was archived between the write and the read.
		return nil, domain.ErrConcurrentModification
	}
	return stored, nil
}

func (s *Service) set(ctx context.Context, req domain.UpsertRequest) (*domain.CartLine, error) {
	line, err := s.repo.FindActive(ctx, s.db, req.SessionID, req.ProductID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, domain.ErrLineNotFound
	}

	now := s.clock.Now()
	rows, err := s.repo.SetQuantity(ctx, s.db, line, req.Quantity, now)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, domain.ErrConcurrentModification
	}
	line.Quantity = req.Quantity
	line.Version++
	line.UpdatedAt = now
	return line, nil
}

func (s *Service) Remove(ctx context.Context, sessionID, productID int64) error {
	return s.breaker.Execute(func() error {
		rows, err := s.repo.Delete(ctx, s.db, sessionID, productID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrLineNotFound
		}
		return nil
	})
}

func (s *Service) Archive(ctx context.Context, sessionID int64) (int64, error) {
	return resilience.Do(s.breaker, func() (int64, error) {
		rows, err := s.repo.Archive(ctx, s.db, sessionID, s.clock.Now())
		if err != nil {
			return 0, err
		}
		if rows > 0 {
			s.log.Debug("cart archived",
				zap.String("session_id", snowflake.ID(sessionID).String()),
				zap.Int64("lines", rows),
			)
		}
		return rows, nil
	})
}

func (s *Service) SessionsWithActiveLines(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	return resilience.Do(s.breaker, func() ([]int64, error) {
		return s.repo.SessionsWithActiveLines(ctx, s.db, limit)
	})
}
