package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BuzzLyutic/collab-tracker/internal/config"
	"github.com/BuzzLyutic/collab-tracker/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Apply every migration in migrations/ to DATABASE_URL.

The scripts are idempotent, so running migrate twice is safe.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
