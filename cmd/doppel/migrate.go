package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-doppel-bot/internal/config"
	"github.com/tbourn/go-doppel-bot/internal/repo"
)

func newMigrateCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := cfgFn().Store
			if cfg.Driver == config.StoreRedis {
				fmt.Fprintln(cmd.OutOrStdout(), "redis store needs no migration")
				return nil
			}
			db, err := openSQL(cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema up to date\n", cfg.Driver)
			return nil
		},
	}
}
