package cartflow

import (
	"github.com/smallbiznis/shopassist/internal/cartflow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cartflow.service",
	fx.Provide(service.New),
)
