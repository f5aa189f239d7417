package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Host        string
	Port        int
	Environment string

	// logging
	LogLevel    string `toml:"log_level"`
	LogsPath    string `toml:"logs_path"`
	LogToStdout bool   `toml:"log_to_stdout"`

	SentryEnabled bool `toml:"sentry_enabled"`

	// telemetry
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	TracingEnabled        bool   `toml:"tracing_enabled"`

	// redis, used for per-endpoint rate limiting of the login routes
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// postgres, used for the login attempt audit trail
	AuditEnabled   bool   `toml:"audit_enabled"`
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// back office gate paths
	ProtectedPathPrefix string `toml:"protected_path_prefix"`
	LoginPath           string `toml:"login_path"`
	DashboardPath       string `toml:"dashboard_path"`
	PublicHomePath      string `toml:"public_home_path"`

	LoginRateLimitAllowedPerMin int `toml:"login_rate_limit_allowed_per_min"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, path string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(path, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env %s missing", env)
	}

	cfg.Environment = env
	return cfg, nil
}

// Secrets are supplied exclusively through the environment and are never
// written to logs or any client-visible surface.
type Secrets struct {
	AdminEmail string `env:"LANDORA_ADMIN_EMAIL"`
	// AdminPassword holds a bcrypt hash, or a plaintext password for
	// backward compatibility (pre-hashing out of band is the preferred setup)
	AdminPassword string `env:"LANDORA_ADMIN_PASSWORD"`
	SessionSecret string `env:"LANDORA_SESSION_SECRET"`
	RedisPassword string `env:"LANDORA_REDIS_PASS"`
	SentryDSN     string `env:"SENTRY_DSN"`
}

func LoadSecrets(ctx context.Context) (*Secrets, error) {
	var secrets Secrets
	if err := envconfig.Process(ctx, &secrets); err != nil {
		return nil, fmt.Errorf("process env secrets: %w", err)
	}
	return &secrets, nil
}
