// Package config provides configuration management for the ruleswp service
// and CLI. It uses envconfig for environment variable loading and validator
// for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable read by Load.
const Prefix = "RULESWP"

const (
	// EnvironmentProduction is the production environment identifier
	EnvironmentProduction = "production"
)

// Rule set source kinds.
const (
	SourceDir      = "dir"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
)

// Config holds the complete application configuration.
type Config struct {
	App      AppConfig      `envconfig:"APP"`
	Server   ServerConfig   `envconfig:"SERVER"`
	Rules    RulesConfig    `envconfig:"RULES"`
	Database DatabaseConfig `envconfig:"DB"`
	Redis    RedisConfig    `envconfig:"REDIS"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"ruleswp"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Host         string        `envconfig:"HOST" default:"0.0.0.0"`
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`

	// Largest request body accepted, in bytes
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"min=1"`
}

// Address returns the listen address in host:port format.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}

// RulesConfig configures where rule sets come from and how they run.
type RulesConfig struct {
	Source    string `envconfig:"SOURCE" default:"dir" validate:"oneof=dir sqlite postgres redis"`
	Dir       string `envconfig:"DIR" default:"rules"`
	Table     string `envconfig:"TABLE" default:"rule_sets"`
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"ruleset"`

	// Maximum number of rule firings in one execution
	MaxCycles int `envconfig:"MAX_CYCLES" default:"1000" validate:"min=1"`

	// Time cached rule sets are kept for. Zero keeps them until the process
	// exits.
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"0s"`
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"1000" validate:"min=1"`
}

// DatabaseConfig holds the connection settings of the SQL rule set sources.
type DatabaseConfig struct {
	// PostgreSQL connection URL, for the postgres source
	URL      string `envconfig:"URL"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10" validate:"min=1"`

	// SQLite database file, for the sqlite source
	SQLitePath string `envconfig:"SQLITE_PATH"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Connection can be specified as a URL or individual components
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10" validate:"min=1"`
	TLSEnabled   bool          `envconfig:"TLS_ENABLED" default:"false"`
}

// Address returns the Redis address in host:port format.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Load reads configuration from environment variables with the RULESWP prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs validation on the loaded configuration using go-playground/validator.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := validatePort(c.Server.Port, "server"); err != nil {
		return err
	}

	// The selected source needs its location
	switch c.Rules.Source {
	case SourceDir:
		if err := validateNoWhitespace(c.Rules.Dir, "rules directory"); err != nil {
			return err
		}
	case SourceSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite rule source requires %s_DB_SQLITE_PATH", Prefix)
		}
	case SourcePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("postgres rule source requires %s_DB_URL", Prefix)
		}
		if _, err := parseAndValidateURL(c.Database.URL, []string{"postgres", "postgresql"}); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
	case SourceRedis:
		if err := c.Redis.Validate(c.App.Environment); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks if the Redis configuration is valid.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if _, err := parseAndValidateURL(c.URL, []string{"redis", "rediss"}); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		return nil
	}
	if err := validateNoWhitespace(c.Host, "redis host"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}
	if environment == EnvironmentProduction && c.Password == "" {
		return fmt.Errorf("redis password is required in production environment")
	}
	return nil
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.String("address", c.Server.Address()),
		slog.String("rules_source", c.Rules.Source),
		slog.Int("max_cycles", c.Rules.MaxCycles),
		slog.Duration("cache_ttl", c.Rules.CacheTTL),
	)
}

// validatePort checks if port is valid (1-65535)
func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, portNum)
	}
	return nil
}

// validateNoWhitespace checks if a value is not empty and contains no whitespace
func validateNoWhitespace(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s cannot contain whitespace", fieldName)
	}
	return nil
}

// parseAndValidateURL is a helper for parsing URLs with scheme validation
func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, allowedSchemes)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}

	return parsed, nil
}
