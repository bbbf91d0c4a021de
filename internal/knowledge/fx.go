package knowledge

import (
	"context"
	"fmt"
	"os"

	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("knowledge",
	fx.Provide(provide),
	fx.Provide(func(b *Base) Searcher { return b }),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Provider  embedding.Provider
	Log       *zap.Logger
}

func provide(p Params) *Base {
	b := New(p.Provider, p.Log)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			text, err := policyText(p.Config.KnowledgePath)
			if err != nil {
				return err
			}
			if err := b.Load(ctx, text); err != nil {
				// Questions are still answered from the catalog.
				b.log.Warn("knowledge base load failed", zap.Error(err))
			}
			return nil
		},
	})
	return b
}

// policyText reads the policy file at path, or the bundled policies when
// path is empty.
func policyText(path string) (string, error) {
	if path == "" {
		return DefaultPolicies, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read knowledge file: %w", err)
	}
	return string(raw), nil
}
