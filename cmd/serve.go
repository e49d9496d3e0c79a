package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/config"
	"github.com/usagegate/usagegate/internal/db"
	httpSrv "github.com/usagegate/usagegate/internal/http"
	"github.com/usagegate/usagegate/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governance gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel)
		log := logger.L()

		// MySQL is only used for tier hydration; a failure degrades to the
		// default tier instead of refusing to start.
		var mysqlDB *sqlx.DB
		if cfg.MySQL.DSN != "" {
			mysqlDB, err = db.NewMySQL(cfg.MySQL)
			if err != nil {
				log.Warn("mysql unavailable, tier hydration disabled", zap.Error(err))
				mysqlDB = nil
			} else {
				defer mysqlDB.Close()
			}
		}

		// Redis down at startup means counters fall back to process memory;
		// governance stays permissive rather than blocking the deploy.
		var redisClient *redis.Client
		redisClient, err = db.NewRedis(cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, using in-memory counters", zap.Error(err))
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
		}

		chDB, err := db.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		server, err := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}
