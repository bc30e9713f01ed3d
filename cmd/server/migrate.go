package main

import (
	"docvault-go/pkg/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或升级数据库表结构",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.OpenPostgres(cfg.Database.Postgres.DSN)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		return database.Migrate(db, cfg.Embedding.Dimensions)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
