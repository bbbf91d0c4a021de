package seed

import (
	"context"
	"time"

	"github.com/smallbiznis/shopassist/internal/config"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module seeds the catalog during startup. It must be listed after the
// migration module and runs before lifecycle hooks, so the product index's
// initial build already sees the seeded products.
var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, products productdomain.Service, log *zap.Logger) error {
		if !cfg.SeedCatalog {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := EnsureCatalog(ctx, products, log.Named("seed"))
		return err
	}),
)
