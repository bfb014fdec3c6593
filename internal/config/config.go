package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opsagent/orchestrator/internal/tracing"
)

// DefaultPath is used when CONFIG_PATH is unset; a missing default file is
// not an error.
const DefaultPath = "./config/opsagent.yaml"

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CapabilityConfig selects and tunes the capability backend.
type CapabilityConfig struct {
	Provider      string        `mapstructure:"provider"` // "http" or "openai"
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimitRPM  int           `mapstructure:"rate_limit_rpm"` // per responder, 0 = unlimited
	RateBurst     int           `mapstructure:"rate_burst"`
	MaxToolRounds int           `mapstructure:"max_tool_rounds"`
}

type OrchestrationConfig struct {
	ReviewEnabled  bool `mapstructure:"review_enabled"`
	MaxConcurrency int  `mapstructure:"max_concurrency"` // 0 = every task of a step at once
}

type StreamingConfig struct {
	MaxBacklog int           `mapstructure:"max_backlog"`
	Heartbeat  time.Duration `mapstructure:"heartbeat"`
	RedisRelay bool          `mapstructure:"redis_relay"`
}

type SessionConfig struct {
	Backend    string        `mapstructure:"backend"` // "memory" or "redis"
	TTL        time.Duration `mapstructure:"ttl"`
	MaxHistory int           `mapstructure:"max_history"`
	CacheSize  int           `mapstructure:"cache_size"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// Config is the service configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Capability    CapabilityConfig    `mapstructure:"capability"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
	Session       SessionConfig       `mapstructure:"session"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8081)
	v.SetDefault("service.shutdown_timeout", 15*time.Second)

	v.SetDefault("capability.provider", "http")
	v.SetDefault("capability.base_url", "http://llm-service:8000")
	v.SetDefault("capability.model", "gpt-4o-mini")
	v.SetDefault("capability.api_key", "")
	v.SetDefault("capability.timeout", 60*time.Second)
	v.SetDefault("capability.rate_limit_rpm", 0)
	v.SetDefault("capability.rate_burst", 1)
	v.SetDefault("capability.max_tool_rounds", 8)

	v.SetDefault("orchestration.review_enabled", true)
	v.SetDefault("orchestration.max_concurrency", 0)

	v.SetDefault("streaming.max_backlog", 1024)
	v.SetDefault("streaming.heartbeat", time.Duration(0))
	v.SetDefault("streaming.redis_relay", false)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.max_history", 100)
	v.SetDefault("session.cache_size", 1000)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("catalog.path", "./config/responders.yaml")
	v.SetDefault("catalog.watch", true)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "opsagent-orchestrator")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")
}

// Load reads the YAML file at path (optional when empty) and applies
// OPSAGENT_* environment overrides, e.g. OPSAGENT_SERVICE_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("OPSAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFromEnv loads CONFIG_PATH, or DefaultPath if it exists.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat(DefaultPath); errors.Is(err, fs.ErrNotExist) {
			return Load("")
		}
		path = DefaultPath
	}
	return Load(path)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Capability.Provider {
	case "http", "openai":
	default:
		return fmt.Errorf("capability.provider must be http or openai, got %q", c.Capability.Provider)
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("session.backend must be memory or redis, got %q", c.Session.Backend)
	}
	if c.Orchestration.MaxConcurrency < 0 {
		return fmt.Errorf("orchestration.max_concurrency must be >= 0")
	}
	if c.Streaming.MaxBacklog <= 0 {
		return fmt.Errorf("streaming.max_backlog must be > 0")
	}
	return nil
}
