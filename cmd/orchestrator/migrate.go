package main

import (
	"errors"
	"log/slog"

	"github.com/bissquit/incident-orchestrator/internal/app"
	"github.com/bissquit/incident-orchestrator/internal/config"
	"github.com/bissquit/incident-orchestrator/internal/pkg/postgres"
	"github.com/bissquit/incident-orchestrator/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath, configRequired)
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != config.DriverPostgres {
			return errors.New("migrate requires storage.driver=postgres")
		}
		slog.SetDefault(app.InitLogger(cfg.Log))
		return postgres.Migrate(migrations.FS, cfg.Database.URL)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
