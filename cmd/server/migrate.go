package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wagerhall/wager-server/internal/repository"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres sessions schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := repository.NewDB(ctx, cfg.Database, logger)
			if err != nil {
				logger.Error("failed to connect to database", zap.Error(err))
				return err
			}
			defer db.Close()

			return db.Migrate(ctx)
		},
	}
}
