package retrieval

import (
	"context"
	"time"

	"github.com/smallbiznis/shopassist/internal/retrieval/domain"
	"github.com/smallbiznis/shopassist/internal/retrieval/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retrieval.engine",
	fx.Provide(service.New),
	fx.Provide(func(e *service.Engine) domain.Engine { return e }),
	fx.Invoke(runCacheJanitor),
)

func runCacheJanitor(lc fx.Lifecycle, e *service.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				e.Cache().RunJanitor(ctx, time.Minute)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
