package main

import (
	"github.com/spf13/cobra"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/settings"
)

func newMigrateCmd() *cobra.Command {
	var o settings.DBOverrides
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadEnv()
			if err != nil {
				return err
			}
			defer app.closer.Close()

			cfg, err := app.resolver.ResolveDatabase(cmd.Context(), o)
			if err != nil {
				return err
			}
			version, err := database.Migrate(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			app.logger.Info("schema up to date", "host", cfg.Addr(), "database", cfg.Database, "version", version)
			return nil
		},
	}
	dbFlags(cmd, &o)
	return cmd
}
