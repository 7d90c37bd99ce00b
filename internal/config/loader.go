package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "overseer.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "OVERSEER_PORT")
	setString(&cfg.Server.CORSOrigin, "OVERSEER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "OVERSEER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "OVERSEER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "OVERSEER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "OVERSEER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "OVERSEER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Bus.Stream, "OVERSEER_BUS_STREAM")
	setDuration(&cfg.Bus.Retention, "OVERSEER_BUS_RETENTION")
	setString(&cfg.Bus.SigningKeyHex, "OVERSEER_BUS_SIGNING_KEY")
	setString(&cfg.Ledger.Bucket, "OVERSEER_LEDGER_BUCKET")
	setDuration(&cfg.Ledger.TTL, "OVERSEER_LEDGER_TTL")
	setInt64(&cfg.Ledger.L1MaxSizeMB, "OVERSEER_LEDGER_L1_SIZE_MB")
	setInt64(&cfg.Pipeline.MaxConcurrent, "OVERSEER_PIPELINE_MAX_CONCURRENT")
	setInt(&cfg.Pipeline.FetchRetries, "OVERSEER_PIPELINE_FETCH_RETRIES")
	setDuration(&cfg.Pipeline.FetchBackoff, "OVERSEER_PIPELINE_FETCH_BACKOFF")
	setDuration(&cfg.Pipeline.ComputeTimeout, "OVERSEER_PIPELINE_COMPUTE_TIMEOUT")
	setDuration(&cfg.Approval.DefaultTimeout, "OVERSEER_APPROVAL_TIMEOUT")
	setDuration(&cfg.Approval.SweepInterval, "OVERSEER_APPROVAL_SWEEP_INTERVAL")
	setInt(&cfg.Conflict.MaxRounds, "OVERSEER_CONFLICT_MAX_ROUNDS")
	setString(&cfg.Logging.Level, "OVERSEER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OVERSEER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OVERSEER_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "OVERSEER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "OVERSEER_BREAKER_TIMEOUT")
	setString(&cfg.Notify.SlackWebhookURL, "OVERSEER_SLACK_WEBHOOK_URL")
}

// validate checks that required fields are set and cross-field invariants hold.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Pipeline.MaxConcurrent < 1 {
		return errors.New("pipeline.max_concurrent must be >= 1")
	}
	if cfg.Conflict.MaxRounds < 1 {
		return errors.New("conflict.max_rounds must be >= 1")
	}
	if cfg.Ledger.TTL <= cfg.Bus.Retention {
		return errors.New("ledger.ttl must exceed bus.retention")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
