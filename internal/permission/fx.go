package permission

import (
	"github.com/smallbiznis/clavis/internal/permission/repository"
	"github.com/smallbiznis/clavis/internal/permission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("permission.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewResolver),
)
