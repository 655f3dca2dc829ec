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
const DefaultConfigFile = "agentforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("AGENTFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
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
	setString(&cfg.Server.Port, "AGENTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTFORGE_CORS_ORIGIN")
	setString(&cfg.Store.Driver, "AGENTFORGE_STORE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")

	// Stage backends
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.Model, "OPENAI_MODEL")
	setInt(&cfg.OpenAI.MaxTokens, "AGENTFORGE_OPENAI_MAX_TOKENS")
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.GitHub.Owner, "GITHUB_OWNER")
	setString(&cfg.GitHub.Repo, "GITHUB_REPO")
	setString(&cfg.GitHub.Branch, "GITHUB_BRANCH")
	setString(&cfg.Render.DeployHook, "RENDER_DEPLOY_HOOK")
	setString(&cfg.Tester.Python, "AGENTFORGE_PYTHON")
	setDuration(&cfg.Tester.Timeout, "AGENTFORGE_TEST_TIMEOUT")
	setString(&cfg.Tester.WorkDir, "AGENTFORGE_TEST_WORKDIR")

	// Pipeline
	setInt(&cfg.Pipeline.MaxConcurrentRuns, "AGENTFORGE_MAX_CONCURRENT_RUNS")
	setDuration(&cfg.Pipeline.GenerateTimeout, "AGENTFORGE_GENERATE_TIMEOUT")
	setDuration(&cfg.Pipeline.PublishTimeout, "AGENTFORGE_PUBLISH_TIMEOUT")
	setDuration(&cfg.Pipeline.ReleaseTimeout, "AGENTFORGE_RELEASE_TIMEOUT")
	setInt(&cfg.Pipeline.EventBuffer, "AGENTFORGE_EVENT_BUFFER")

	setString(&cfg.Logging.Level, "AGENTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AGENTFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AGENTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "AGENTFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AGENTFORGE_RATE_BURST")
	setInt64(&cfg.Cache.MaxSizeMB, "AGENTFORGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.StatsTTL, "AGENTFORGE_CACHE_STATS_TTL")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "AGENTFORGE_OTEL_INSECURE")

	// Legacy alias used by older deploy scripts.
	if cfg.Render.DeployHook == "" {
		setString(&cfg.Render.DeployHook, "RENDER_WEBHOOK_URL")
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres store")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", cfg.Store.Driver)
	}
	if cfg.Pipeline.MaxConcurrentRuns < 0 {
		return errors.New("pipeline.max_concurrent_runs must be >= 0")
	}
	if cfg.Pipeline.EventBuffer < 1 {
		return errors.New("pipeline.event_buffer must be >= 1")
	}
	if cfg.Tester.Timeout <= 0 {
		return errors.New("tester.timeout must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
