package credential

import (
	"github.com/smallbiznis/clavis/internal/credential/repository"
	"github.com/smallbiznis/clavis/internal/credential/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credential.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
