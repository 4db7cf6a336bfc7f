package rowfilter

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("rowfilter",
	fx.Provide(NewRegistry),
	fx.Provide(NewManager),
	fx.Invoke(installPlugin),
)

func installPlugin(db *gorm.DB, registry *Registry) error {
	return db.Use(NewPlugin(registry))
}
