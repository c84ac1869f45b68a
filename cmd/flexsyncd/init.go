package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flexsync/internal/config"
	"flexsync/internal/storage"
	"flexsync/internal/subscriptions"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the database file and schema without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			db, err := storage.OpenSQLite(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := subscriptions.Open(cmd.Context(), db, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("initialized %s (schema version %d)\n", cfg.DBPath, storage.SchemaVersion)
			return nil
		},
	}
}
