package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/usagegate/usagegate/internal/config"
	"github.com/usagegate/usagegate/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (tenants in MySQL, ledger in ClickHouse)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		mysqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		sqlPath := filepath.Join("migrations", "001_init.sql")
		sqlBytes, err := os.ReadFile(sqlPath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", sqlPath, err)
		}
		if _, err := mysqlDB.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("exec mysql migration: %w", err)
		}

		chDB, err := db.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		chPath := filepath.Join("migrations", "clickhouse", "001_usage_records.sql")
		chBytes, err := os.ReadFile(chPath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", chPath, err)
		}
		if _, err := chDB.Exec(string(chBytes)); err != nil {
			return fmt.Errorf("exec clickhouse migration: %w", err)
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}
