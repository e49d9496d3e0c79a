package http

import (
	"context"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/config"
	"github.com/usagegate/usagegate/internal/governance"
	"github.com/usagegate/usagegate/internal/identity"
	"github.com/usagegate/usagegate/internal/logger"
	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/repository"
	"github.com/usagegate/usagegate/internal/store"
	"github.com/usagegate/usagegate/internal/usage"
)

type Server struct {
	e        *echo.Echo
	recorder *usage.Recorder
}

// NewServer wires stores, governance and the recorder around the API routes.
// clickhouseDB is required; mysqlDB and rds may be nil in dev, in which case
// tier hydration is skipped and counters live in process memory.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client) (*Server, error) {
	log := logger.L()

	// stores
	var counters store.CounterStore
	var quotas store.QuotaStore
	if rds != nil {
		rs := store.NewRedisStore(rds)
		counters, quotas = rs, rs
	} else {
		ms := store.NewMemoryStore()
		counters, quotas = ms, ms
	}

	// repos
	var tenantsRepo repository.TenantsRepository
	if mysqlDB != nil {
		tenantsRepo = repository.NewTenantsRepository(mysqlDB)
	}
	usageRepo := repository.NewUsageRepository(clickhouseDB)

	// governance pieces
	exclude, err := governance.NewExclusionFilter(cfg.Governance.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	limiter := governance.NewLimiter(counters, log)
	enforcer := governance.NewEnforcer(quotas, governance.MonthlyPeriod, log)

	// recorder: batch flusher feeding the configured sink, with quota
	// accumulation of whatever lands in the ledger
	var sink usage.Sink
	if cfg.Recorder.Sink == "kafka" {
		sink = usage.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		sink = usage.NewClickHouseSink(usageRepo)
	}
	recorder := usage.NewRecorder(sink, enforcer, usage.Options{
		QueueSize:     cfg.Recorder.QueueSize,
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
	}, log)

	governor := governance.NewGovernor(
		governance.Config{
			EnableRateLimiting:     cfg.Governance.EnableRateLimiting,
			EnableUsageTracking:    cfg.Governance.EnableUsageTracking,
			EnableTenantLimits:     cfg.Governance.EnableTenantLimits,
			EnableGlobalLimits:     cfg.Governance.EnableGlobalLimits,
			TrackAPICalls:          cfg.Governance.TrackAPICalls,
			TrackAITokens:          cfg.Governance.TrackAITokens,
			TrackContentGeneration: cfg.Governance.TrackContentGeneration,
			TrackStorage:           cfg.Governance.TrackStorage,
			TrackBandwidth:         cfg.Governance.TrackBandwidth,
			DefaultTier:            cfg.Governance.DefaultTier,
			UpgradeURL:             cfg.Governance.UpgradeURL,
		},
		exclude,
		identity.NewResolver(cfg.Governance.JWTSecret),
		tenantsRepo,
		limiter,
		enforcer,
		recorder,
		cfg.BillingTiers(),
		log,
	)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// governed routes
	v1 := e.Group("/v1", governor.Middleware())
	v1.GET("/usage/records", listUsageRecordsHandler(usageRepo))
	v1.GET("/quota", quotaStatusHandler(governor))

	return &Server{e: e, recorder: recorder}, nil
}

func (s *Server) Start(addr string) error {
	logger.L().Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

// Shutdown stops the listener, then drains the usage queue.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.e.Shutdown(ctx); err != nil {
		return err
	}
	return s.recorder.Close(ctx)
}
