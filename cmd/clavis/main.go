package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/credential"
	"github.com/smallbiznis/clavis/internal/integrity"
	"github.com/smallbiznis/clavis/internal/logger"
	"github.com/smallbiznis/clavis/internal/migration"
	"github.com/smallbiznis/clavis/internal/observability/metrics"
	"github.com/smallbiznis/clavis/internal/permission"
	"github.com/smallbiznis/clavis/internal/policy"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	"github.com/smallbiznis/clavis/internal/session"
	"github.com/smallbiznis/clavis/internal/tenant"
	"github.com/smallbiznis/clavis/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,

		// Engine
		rowfilter.Module,
		policy.Module,
		tenant.Module,
		permission.Module,
		credential.Module,
		integrity.Module,
		session.Module,

		migration.Module,

		fx.Invoke(func(*session.Factory) {}),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
