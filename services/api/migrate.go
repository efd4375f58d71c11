package main

import (
	"context"
	"time"

	"github.com/networkup/chat/internal/config"
	"github.com/networkup/chat/internal/logger"
	"github.com/networkup/chat/internal/startup"
	"github.com/networkup/chat/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			initLogger(cfg)
			pool, err := startup.ConnectDB(cmd.Context(), cfg, 60*time.Second)
			if err != nil {
				return err
			}
			defer pool.Close()
			return startup.RunMigrations(context.Background(), pool, migrations.Files)
		},
	}
}

func initLogger(cfg *config.Config) {
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Async: true})
}
