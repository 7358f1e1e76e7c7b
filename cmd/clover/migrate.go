package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/startup"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply migrations up to DB_MIGRATION_VERSION (latest when 0)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), root, func(a *app) error {
				return a.migrationService().Migrate(a.db.SQL())
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), root, func(a *app) error {
				return a.migrationService().Down(a.db.SQL(), steps)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

// withDatabase connects to the database only, runs fn and disconnects.
func withDatabase(ctx context.Context, root *rootOptions, fn func(a *app) error) error {
	a := &app{cfg: root.cfg, logger: root.logger}
	deps := startup.New(root.logger, root.cfg.StartupMaxAttempts).
		Add(startup.Func{Name: depDatabase, StartFn: a.startDatabase, StopFn: a.stopDatabase})

	if err := deps.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = deps.Stop(context.Background()) }()

	return fn(a)
}
