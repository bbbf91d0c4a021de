package classifier

import (
	"github.com/smallbiznis/shopassist/internal/intent/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("intent.classifier",
	fx.Provide(New),
	fx.Provide(func(c *Classifier) domain.Classifier { return c }),
)
