package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/usagegate/usagegate/internal/config"
)

const defaultPingTimeout = 5 * time.Second

// NewMySQL opens the tenants database with pool settings from config.
func NewMySQL(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	dbx, err := sqlx.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := tunePool(dbx, cfg); err != nil {
		_ = dbx.Close()
		return nil, err
	}
	return dbx, nil
}

// tunePool applies pool limits and verifies connectivity.
func tunePool(dbx *sqlx.DB, cfg config.DatabaseConfig) error {
	if cfg.MaxOpenConns > 0 {
		dbx.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		dbx.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		dbx.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		dbx.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return dbx.PingContext(ctx)
}
