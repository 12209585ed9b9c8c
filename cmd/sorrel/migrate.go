package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/app"
	"github.com/Ramsey-B/sorrel/pkg/database"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(cmd.Context(), c.cfg.Database(), c.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			instance, ok := db.(*database.DatabaseInstance)
			if !ok {
				return errors.New("migrations need a *sqlx.DB connection")
			}
			return app.Migrate(instance.DB, c.cfg, c.logger)
		},
	}
}
