package dispatch

import "go.uber.org/fx"

var Module = fx.Module("dispatch",
	fx.Provide(New),
	fx.Provide(func(s *Service) Dispatcher { return s }),
)
