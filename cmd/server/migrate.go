package main

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/pkg/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending MySQL schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.Service.Name, cfg.Service.Env, cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := sql.Open("mysql", cfg.MySQL.DSN)
			if err != nil {
				return fmt.Errorf("open mysql: %w", err)
			}
			defer db.Close()

			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("ping mysql: %w", err)
			}
			if err := storage.RunMigrations(db); err != nil {
				return err
			}
			logger.Info("migrations applied", zap.String("driver", "mysql"))
			return nil
		},
	}
}
