package main

import (
	"github.com/spf13/cobra"

	"hivemind/core-go/migrations"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := pool.Migrate(ctx, migrations.FS)
			if err != nil {
				return err
			}
			a.log.Info().Strs("applied", applied).Int("count", len(applied)).Msg("migrations complete")
			return nil
		},
	}
}
