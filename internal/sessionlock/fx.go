package sessionlock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/shopassist/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("session.lock",
	fx.Provide(provideRedisClient),
	fx.Provide(provideLocker),
)

type Params struct {
	fx.In

	Cfg    config.Config
	Holder *config.AssistantConfigHolder
	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
}

func provideRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		OnStop:  func(context.Context) error { return client.Close() },
	})
	return client
}

func provideLocker(p Params) Locker {
	log := p.Log.Named("session.lock")
	var remote *Redis
	if p.Redis != nil {
		remote = NewRedis(p.Redis, p.Holder.Get().Lock.TTL)
		log.Info("distributed session lock enabled", zap.String("addr", p.Cfg.Redis.Addr))
	}
	return NewChain(NewLocal(), remote, func() time.Duration { return p.Holder.Get().Lock.Wait })
}
