package productindex

import (
	"context"
	"time"

	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/embedding"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("product.index",
	fx.Provide(provide),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Reader    productdomain.Reader
	Writer    productdomain.Writer
	Provider  embedding.Provider
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *obsmetrics.AssistantMetrics `optional:"true"`
}

func provide(p Params) *Index {
	ix := New(p.Reader, p.Writer, p.Provider, p.Clock, p.Log, p.Metrics)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if _, err := ix.Refresh(ctx); err != nil {
				// The scheduler retries on its next tick.
				ix.log.Warn("initial product index build failed", zap.Error(err))
			}
			return nil
		},
	})
	return ix
}
