package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/config"
	"github.com/ekaya-inc/ekaya-agent/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := connectDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			// The migration driver closes its handle, so each call gets its own.
			if err := database.RunMigrations(db.StdDB(), logger); err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(db.StdDB(), logger)
			if err != nil {
				return err
			}
			logger.Info("Schema is up to date", zap.Uint("version", version), zap.Bool("dirty", dirty))
			return nil
		},
	}
}

// connectDatabase opens the agent's own Postgres pool.
func connectDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
