package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	cartflowdomain "github.com/smallbiznis/shopassist/internal/cartflow/domain"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/productindex"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
	"github.com/smallbiznis/shopassist/internal/sessionlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobCartCleanup  = "cart_cleanup"
	JobIndexRefresh = "index_refresh"
	JobAbandonIdle  = "abandon_idle_sessions"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// IndexRefresher rebuilds the product index snapshot.
type IndexRefresher interface {
	Refresh(ctx context.Context) (*productindex.Snapshot, error)
}

type Params struct {
	fx.In

	Orchestrator cartflowdomain.Orchestrator
	Index        IndexRefresher
	Sessions     sessiondomain.Service
	Holder       *config.AssistantConfigHolder
	GenID        *snowflake.Node
	Clock        clock.Clock
	Log          *zap.Logger
	Metrics      *obsmetrics.AssistantMetrics `optional:"true"`
	Redis        *redis.Client                `optional:"true"`
	Config       Config                       `optional:"true"`
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	holder       *config.AssistantConfigHolder
	orchestrator cartflowdomain.Orchestrator
	index        IndexRefresher
	sessions     sessiondomain.Service
	metrics      *obsmetrics.AssistantMetrics
	guard        *sessionlock.Redis
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Orchestrator == nil || p.Index == nil || p.Sessions == nil || p.GenID == nil || p.Clock == nil || p.Holder == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		holder:       p.Holder,
		orchestrator: p.Orchestrator,
		index:        p.Index,
		sessions:     p.Sessions,
		metrics:      p.Metrics,
		guard:        sessionlock.NewRedis(p.Redis, cfg.RefreshTimeout),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, ok, err := s.claim(ctx, name)
	if err != nil {
		s.log.Warn("job claim failed, running unguarded", zap.String("job", name), zap.Error(err))
	} else if !ok {
		s.log.Debug("job held by another replica", zap.String("job", name))
		return nil
	}
	defer release()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err = fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks up the rest.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// claim takes the cross-replica guard for a job. Without redis every replica
// runs every job; all jobs are idempotent.
func (s *Scheduler) claim(ctx context.Context, name string) (func(), bool, error) {
	noop := func() {}
	if s.guard == nil {
		return noop, true, nil
	}
	key := "scheduler:" + name
	token, ok, err := s.guard.TryLock(ctx, key)
	if err != nil {
		return noop, true, err
	}
	if !ok {
		return noop, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.guard.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("job guard release failed", zap.String("job", name), zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobCartCleanup, func(ctx context.Context) error {
			return s.runJob(ctx, JobCartCleanup, s.cfg.CleanupBatchSize, s.cfg.JobTimeout, s.CartCleanupJob)
		}},
		{JobAbandonIdle, func(ctx context.Context) error {
			return s.runJob(ctx, JobAbandonIdle, 0, s.cfg.JobTimeout, s.AbandonIdleSessionsJob)
		}},
		{JobIndexRefresh, func(ctx context.Context) error {
			return s.runJob(ctx, JobIndexRefresh, 0, s.cfg.RefreshTimeout, s.IndexRefreshJob)
		}},
	}

	for _, job := range jobs {
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// CartCleanupJob archives the live cart lines of sessions that completed
// checkout but whose archive step failed.
func (s *Scheduler) CartCleanupJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	cleaned, err := s.orchestrator.SweepCompleted(ctx, s.cfg.CleanupBatchSize)
	run.AddProcessed(cleaned)
	s.metrics.AddBatchProcessed(JobCartCleanup, "carts", cleaned)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.cart_cleanup.failed", JobCartCleanup, err)
		return err
	}
	return nil
}

// AbandonIdleSessionsJob marks active sessions idle past the configured
// timeout as abandoned.
func (s *Scheduler) AbandonIdleSessionsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	idle := s.holder.Get().Session.IdleTimeout
	if idle <= 0 {
		return nil
	}
	n, err := s.sessions.AbandonIdle(ctx, s.clock.Now().Add(-idle))
	run.AddProcessed(int(n))
	s.metrics.AddBatchProcessed(JobAbandonIdle, "sessions", int(n))
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.abandon_idle.failed", JobAbandonIdle, err)
		return err
	}
	return nil
}

// IndexRefreshJob rebuilds the product index; readers keep the previous
// snapshot until the new one is swapped in.
func (s *Scheduler) IndexRefreshJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	snap, err := s.index.Refresh(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.index_refresh.failed", JobIndexRefresh, err)
		return err
	}
	run.AddProcessed(snap.Len())
	s.metrics.AddBatchProcessed(JobIndexRefresh, "products", snap.Len())
	return nil
}
