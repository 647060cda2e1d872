package main

import (
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the routing tables in postgres",
		Long:  "Connects with the DB_* environment variables and runs the schema migration for every routing table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg := repository.LoadDatabaseConfigFromEnv()
			db, err := repository.NewDatabaseConnection(dbCfg)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repository.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated routing schema in %s@%s/%s\n", dbCfg.User, dbCfg.Host, dbCfg.DBName)
			return nil
		},
	}
}
