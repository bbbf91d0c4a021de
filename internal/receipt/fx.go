package receipt

import "go.uber.org/fx"

var Module = fx.Module("receipt",
	fx.Provide(NewPDFRenderer),
)
