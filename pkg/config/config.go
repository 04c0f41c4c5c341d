// Package config loads the proxy configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// Config is the proxy configuration.
type Config struct {
	Port int `env:"PORT" envDefault:"8080" validate:"gt=0,lte=65535"`

	OBAServerURL string `env:"OBA_SERVER_URL,required" validate:"required,url"`
	OBAAPIKey    string `env:"OBA_API_KEY" envDefault:"test"`

	// Empty disables OTP API type detection.
	OTPServerURL string `env:"OTP_SERVER_URL" validate:"omitempty,url"`

	// Either host:port or a redis:// URL. Empty keeps all shared state in process.
	RedisURL string `env:"REDIS_URL"`

	UserAgent string `env:"USER_AGENT" envDefault:"transit-proxy/0.1.0" validate:"required"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"1h" validate:"gt=0"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"15m" validate:"gte=0"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s" validate:"gt=0"`

	UpstreamRPS       float64 `env:"UPSTREAM_RPS" envDefault:"10" validate:"gte=0"`
	AgencyConcurrency int     `env:"AGENCY_CONCURRENCY" envDefault:"5" validate:"gt=0"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RedisOptions returns connection options, or nil when Redis is not configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}

	if strings.HasPrefix(c.RedisURL, "redis://") || strings.HasPrefix(c.RedisURL, "rediss://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}

	return &redis.Options{Addr: c.RedisURL}, nil
}
