package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ropacal-forecast/internal/database"
)

var seedDemo bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create forecast tables and indexes",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&seedDemo, "seed", false, "load demo bins and collection history into an empty database")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop, cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer stop()

	db, err := database.Connect(ctx, cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, log); err != nil {
		return err
	}
	if seedDemo || cfg.Database.Seed {
		if err := database.SeedDemoData(ctx, db, log, time.Now()); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return err
}
