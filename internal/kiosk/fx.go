package kiosk

import "go.uber.org/fx"

var Module = fx.Module("kiosk.flow",
	fx.Provide(NewFlow),
)
