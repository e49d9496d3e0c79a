package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"

	"github.com/usagegate/usagegate/internal/model"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	LogLevel   string                `mapstructure:"log_level"`
	HTTP       HTTPConfig            `mapstructure:"http"`
	MySQL      DatabaseConfig        `mapstructure:"mysql"`
	ClickHouse DatabaseConfig        `mapstructure:"clickhouse"`
	Redis      RedisConfig           `mapstructure:"redis"`
	Kafka      KafkaConfig           `mapstructure:"kafka"`
	Governance GovernanceConfig      `mapstructure:"governance"`
	Recorder   RecorderConfig        `mapstructure:"recorder"`
	Tiers      map[string]TierConfig `mapstructure:"tiers"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// GovernanceConfig is the recognized-options table for the governance layer.
type GovernanceConfig struct {
	EnableRateLimiting  bool `mapstructure:"enable_rate_limiting"`
	EnableUsageTracking bool `mapstructure:"enable_usage_tracking"`
	EnableTenantLimits  bool `mapstructure:"enable_tenant_limits"`
	EnableGlobalLimits  bool `mapstructure:"enable_global_limits"`

	TrackAPICalls          bool `mapstructure:"track_api_calls"`
	TrackAITokens          bool `mapstructure:"track_ai_tokens"`
	TrackContentGeneration bool `mapstructure:"track_content_generation"`
	TrackStorage           bool `mapstructure:"track_storage"`
	TrackBandwidth         bool `mapstructure:"track_bandwidth"`

	DefaultTier     string   `mapstructure:"default_tier"`
	JWTSecret       string   `mapstructure:"jwt_secret"`
	UpgradeURL      string   `mapstructure:"upgrade_url"`
	ExcludePatterns []string `mapstructure:"exclude_patterns"`
}

type RecorderConfig struct {
	Sink          string        `mapstructure:"sink"` // "clickhouse" | "kafka"
	QueueSize     int           `mapstructure:"queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type TierConfig struct {
	Rules  []RuleConfig     `mapstructure:"rules"`
	Quotas map[string]int64 `mapstructure:"quotas"`
}

type RuleConfig struct {
	ID      string        `mapstructure:"id"`
	Scope   string        `mapstructure:"scope"`
	Window  time.Duration `mapstructure:"window"`
	Max     int64         `mapstructure:"max"`
	Message string        `mapstructure:"message"`
}

// BillingTiers converts the configured tier table into the runtime model.
// Unknown scopes and categories are dropped rather than erroring so a typo
// in one tier cannot take the service down.
func (c Config) BillingTiers() map[string]model.BillingTier {
	tiers := make(map[string]model.BillingTier, len(c.Tiers))
	for name, tc := range c.Tiers {
		t := model.BillingTier{
			Name:   name,
			Quotas: make(map[model.ResourceCategory]int64, len(tc.Quotas)),
		}
		for _, rc := range tc.Rules {
			scope, ok := model.ParseRateLimitScope(rc.Scope)
			if !ok {
				continue
			}
			t.Rules = append(t.Rules, model.RateLimitRule{
				ID:      rc.ID,
				Scope:   scope,
				Window:  rc.Window,
				Max:     rc.Max,
				Message: rc.Message,
			})
		}
		for cat, limit := range tc.Quotas {
			if parsed, ok := model.ParseResourceCategory(cat); ok {
				t.Quotas[parsed] = limit
			}
		}
		tiers[name] = t
	}
	return tiers
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (USAGEGATE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (USAGEGATE_*)
	v.SetEnvPrefix("USAGEGATE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
