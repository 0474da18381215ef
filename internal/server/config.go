// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultBurst          = 5
	defaultSendQueueSize  = 256
	defaultPresenceTTL    = 60 * time.Second
	defaultTokenTTL       = 24 * time.Hour
	defaultShutdown       = 10 * time.Second
	defaultStoreTimeout   = 5 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string          `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins []string        `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize int64           `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimit      RateLimitConfig
	SendQueueSize  int             `env:"SEND_QUEUE_SIZE" envDefault:"256"`

	// JoinRequiresParticipant makes join_chat check persisted participation.
	JoinRequiresParticipant bool `env:"JOIN_REQUIRES_PARTICIPANT" envDefault:"false"`

	DatabaseURL   string        `env:"DATABASE_URL"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL" envDefault:"60s"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-me"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := Config{
		Port:            defaultPort,
		AllowedOrigins:  []string{"http://localhost:8080"},
		MaxMessageSize:  defaultMaxMessageSize,
		RateLimit:       RateLimitConfig{Burst: defaultBurst, RefillInterval: time.Second},
		SendQueueSize:   defaultSendQueueSize,
		PresenceTTL:     defaultPresenceTTL,
		JWTSecret:       "change-me",
		TokenTTL:        defaultTokenTTL,
		LogLevel:        "info",
		LogFormat:       "console",
		ShutdownTimeout: defaultShutdown,
		StoreTimeout:    defaultStoreTimeout,
	}
	return &cfg
}

// LoadConfig reads the environment into a Config and replaces invalid values
// with their defaults.
func LoadConfig() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	cfg.sanitize()
	return &cfg, nil
}

func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = defaultPresenceTTL
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdown
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
}
