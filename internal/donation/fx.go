package donation

import (
	"github.com/givebox/givebox/internal/donation/repository"
	"github.com/givebox/givebox/internal/donation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("donation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
