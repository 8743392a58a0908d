package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/donorbook/internal/audit"
	"github.com/smallbiznis/donorbook/internal/clock"
	"github.com/smallbiznis/donorbook/internal/config"
	"github.com/smallbiznis/donorbook/internal/ledger"
	"github.com/smallbiznis/donorbook/internal/migration"
	"github.com/smallbiznis/donorbook/internal/observability"
	"github.com/smallbiznis/donorbook/internal/scheduler"
	"github.com/smallbiznis/donorbook/internal/sequence"
	"github.com/smallbiznis/donorbook/internal/server"
	"github.com/smallbiznis/donorbook/internal/transaction"
	"github.com/smallbiznis/donorbook/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		audit.Module,
		sequence.Module,
		ledger.Module,
		transaction.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
