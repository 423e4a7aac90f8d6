// Package config loads runtime settings from defaults, an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for every vulngraph command.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LoggerConfig controls the zap logger and its optional rotating file sink.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	LogFile    string `mapstructure:"log_file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig holds the ArangoDB connection settings.
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	URL            string        `mapstructure:"url"`
	Name           string        `mapstructure:"name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Endpoint returns the explicit URL or one built from host and port.
func (d DatabaseConfig) Endpoint() string {
	if d.URL != "" {
		return d.URL
	}
	return "http://" + d.Host + ":" + d.Port
}

// OracleConfig points at an OpenAI-compatible chat completions gateway.
type OracleConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// EnrichConfig bounds a single enrichment run.
type EnrichConfig struct {
	BatchLimit    int     `mapstructure:"batch_limit"`
	Workers       int     `mapstructure:"workers"`
	RatePerSecond float64 `mapstructure:"rate_per_sec"`
}

// AgentConfig describes the agent backend that serves the chat event streams.
type AgentConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	EventPrefix string        `mapstructure:"event_prefix"`
	RedisURL    string        `mapstructure:"redis_url"`
	TraceTTL    time.Duration `mapstructure:"trace_ttl"`
}

// ServerConfig is the HTTP API listener.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// envBindings maps config keys to the environment variable names used by deployments.
var envBindings = map[string]string{
	"logger.level":             "LOG_LEVEL",
	"logger.format":            "LOG_FORMAT",
	"logger.log_file":          "LOG_FILE",
	"database.host":            "ARANGO_HOST",
	"database.port":            "ARANGO_PORT",
	"database.user":            "ARANGO_USER",
	"database.password":        "ARANGO_PASS",
	"database.url":             "ARANGO_URL",
	"database.name":            "ARANGO_DB",
	"database.connect_timeout": "ARANGO_CONNECT_TIMEOUT",
	"oracle.base_url":          "LITELLM_BASE_URL",
	"oracle.api_key":           "LITELLM_API_KEY",
	"oracle.model":             "ORACLE_MODEL",
	"oracle.timeout":           "ORACLE_TIMEOUT",
	"oracle.max_retries":       "ORACLE_MAX_RETRIES",
	"enrich.batch_limit":       "ENRICH_BATCH_LIMIT",
	"enrich.workers":           "ENRICH_WORKERS",
	"enrich.rate_per_sec":      "ENRICH_RATE_PER_SEC",
	"agent.base_url":           "AGENT_BASE_URL",
	"agent.event_prefix":       "AGENT_EVENT_PREFIX",
	"agent.redis_url":          "REDIS_URL",
	"agent.trace_ttl":          "TRACE_CACHE_TTL",
	"server.port":              "MS_PORT",
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "8529")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.name", "vulngraph")
	v.SetDefault("database.connect_timeout", "0s")

	v.SetDefault("oracle.base_url", "http://localhost:4000")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", "gpt-4o")
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("oracle.max_retries", 0)

	v.SetDefault("enrich.batch_limit", 5)
	v.SetDefault("enrich.workers", 1)
	v.SetDefault("enrich.rate_per_sec", 0.0)

	v.SetDefault("agent.base_url", "http://localhost:5000")
	v.SetDefault("agent.event_prefix", "data: ")
	v.SetDefault("agent.redis_url", "")
	v.SetDefault("agent.trace_ttl", "10m")

	v.SetDefault("server.port", "3000")
}

// Load reads defaults, then the YAML file at path (if non-empty), then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would make the engines misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Enrich.BatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("enrich.batch_limit must be positive, got %d", c.Enrich.BatchLimit))
	}
	if c.Enrich.Workers <= 0 {
		errs = append(errs, fmt.Errorf("enrich.workers must be positive, got %d", c.Enrich.Workers))
	}
	if c.Enrich.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("enrich.rate_per_sec must not be negative"))
	}
	if c.Oracle.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("oracle.max_retries must not be negative"))
	}
	if c.Agent.EventPrefix == "" {
		errs = append(errs, fmt.Errorf("agent.event_prefix must not be empty"))
	}
	switch strings.ToLower(c.Logger.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format))
	}
	return errors.Join(errs...)
}
