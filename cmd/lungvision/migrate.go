package main

import (
	"github.com/lungvision/go-accounts/persistence"
	"github.com/spf13/cobra"
)

func newMigrateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|version|force> [version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			db := app.Config().Database
			return persistence.Migrate(app.GetLogger("migrate"), db.Driver, db.DSN, args[0], args[1:]...)
		},
	}
}
