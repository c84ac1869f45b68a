package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flexsync/internal/config"
	"flexsync/internal/storage"
	"flexsync/internal/subscriptions"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "print the latest and active subscription set for the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd)
		},
	}
	return cmd
}

func runInspect(cmd *cobra.Command) error {
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

	latest, err := store.GetLatest(cmd.Context())
	if err != nil {
		return err
	}
	active, err := store.GetActive(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("latest: version=%d state=%s size=%d\n", latest.Version(), latest.State(), latest.Size())
	fmt.Printf("active: version=%d state=%s size=%d\n", active.Version(), active.State(), active.Size())
	fmt.Printf("active ext_json: %s\n", active.ToExtJSON())
	return nil
}
