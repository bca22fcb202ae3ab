package terminal

import (
	"github.com/givebox/givebox/internal/terminal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("terminal.service",
	fx.Provide(service.NewMetrics),
	fx.Provide(service.NewService),
)
