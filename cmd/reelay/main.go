package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/migration"
	"github.com/reelay/reelay/internal/observability"
	"github.com/reelay/reelay/internal/scheduler"
	"github.com/reelay/reelay/internal/server"
	"github.com/reelay/reelay/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// HTTP surface and background maintenance
		server.Module,
		scheduler.Module,
		migration.Module,
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
