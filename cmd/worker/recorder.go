package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/config"
	"github.com/usagegate/usagegate/internal/db"
	"github.com/usagegate/usagegate/internal/kafka"
	"github.com/usagegate/usagegate/internal/logger"
	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/repository"
	"github.com/usagegate/usagegate/internal/worker"
)

var recorderCmd = &cobra.Command{
	Use:   "recorder",
	Short: "Consume usage records from Kafka into the ClickHouse ledger",
	RunE:  runRecorder,
}

func runRecorder(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	log := logger.L()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	chDB, err := db.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer chDB.Close()

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "usagegate-recorder"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewRecorder(consumer, repository.NewUsageRepository(chDB), log)
	if cfg.Recorder.BatchSize > 0 {
		w.BatchSize = cfg.Recorder.BatchSize
	}
	if cfg.Recorder.FlushInterval > 0 {
		w.BatchWait = cfg.Recorder.FlushInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("recorder worker started",
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", groupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait))

	return w.Run(ctx)
}
