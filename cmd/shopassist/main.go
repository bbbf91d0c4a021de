package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shopassist/internal/assistant"
	"github.com/smallbiznis/shopassist/internal/cart"
	"github.com/smallbiznis/shopassist/internal/cartflow"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/conversation"
	"github.com/smallbiznis/shopassist/internal/dispatch"
	"github.com/smallbiznis/shopassist/internal/intent/classifier"
	"github.com/smallbiznis/shopassist/internal/knowledge"
	"github.com/smallbiznis/shopassist/internal/migration"
	"github.com/smallbiznis/shopassist/internal/observability"
	"github.com/smallbiznis/shopassist/internal/product"
	"github.com/smallbiznis/shopassist/internal/productindex"
	"github.com/smallbiznis/shopassist/internal/providers"
	"github.com/smallbiznis/shopassist/internal/receipt"
	"github.com/smallbiznis/shopassist/internal/retrieval"
	"github.com/smallbiznis/shopassist/internal/scheduler"
	"github.com/smallbiznis/shopassist/internal/seed"
	"github.com/smallbiznis/shopassist/internal/server"
	"github.com/smallbiznis/shopassist/internal/session"
	"github.com/smallbiznis/shopassist/internal/sessionlock"
	"github.com/smallbiznis/shopassist/pkg/db"
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
		sessionlock.Module,
		migration.Module,

		// Partitions
		product.Module,
		cart.Module,
		session.Module,
		conversation.Module,
		seed.Module,

		// Assistant core
		providers.Module,
		productindex.Module,
		retrieval.Module,
		knowledge.Module,
		classifier.Module,
		cartflow.Module,
		dispatch.Module,
		receipt.Module,
		assistant.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
