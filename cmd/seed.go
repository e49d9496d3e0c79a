package cmd

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/usagegate/usagegate/internal/config"
	"github.com/usagegate/usagegate/internal/db"
	"github.com/usagegate/usagegate/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo tenants",
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

		if err := seedTenants(mysqlDB); err != nil {
			return err
		}

		fmt.Println(">> Seed complete")
		return nil
	},
}

// seedTenants inserts deterministic demo tenants (idempotent).
func seedTenants(dbx *sqlx.DB) error {
	tenants := []model.Tenant{
		{Slug: "acme", Name: "Acme Corp", Status: model.TenantActive, Tier: "pro"},
		{Slug: "foobar", Name: "Foobar LLC", Status: model.TenantActive, Tier: "free"},
		{Slug: "beta", Name: "Beta Testers", Status: model.TenantActive, Tier: "free"},
		{Slug: "dormant", Name: "Dormant Inc", Status: model.TenantSuspended, Tier: "free"},
	}

	// idempotent upsert based on slug (UNIQUE)
	const q = `
INSERT INTO tenants (slug, name, status, tier, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    tier       = VALUES(tier),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, t := range tenants {
		if _, err := tx.Exec(q, t.Slug, t.Name, t.Status, t.Tier, now, now); err != nil {
			return fmt.Errorf("insert tenant %q: %w", t.Slug, err)
		}
	}

	return tx.Commit()
}
