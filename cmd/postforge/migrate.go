package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"postforge/internal/config"
	"postforge/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		setupLogger(cfg.IsDev())

		db, err := database.Connect(cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			return err
		}

		version, err := database.Version(db)
		if err != nil {
			return err
		}
		slog.Info("schema up to date", "version", version)
		return nil
	},
}
