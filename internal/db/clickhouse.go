package db

import (
	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/usagegate/usagegate/internal/config"
)

// NewClickHouse opens the usage ledger connection.
// DSN e.g. clickhouse://default:@localhost:9000/usagegate?dial_timeout=5s&compress=true
func NewClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := tunePool(dbx, cfg); err != nil {
		_ = dbx.Close()
		return nil, err
	}
	return dbx, nil
}
