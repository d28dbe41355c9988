package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	RelayRedis = "redis"
	RelayHTTP  = "http"
	RelayNone  = "none"
)

// Config is read once at process start by the Lambda entry points.
type Config struct {
	ChatTable     string `env:"CHAT_TABLE,notEmpty"`
	ProductsTable string `env:"PRODUCTS_TABLE"`
	ParamPrefix   string `env:"PARAM_PREFIX,notEmpty"`

	PaymentBaseURL string `env:"PAYMENT_BASE_URL" envDefault:"https://shop.example.com"`

	RelayBackend string `env:"RELAY_BACKEND" envDefault:"redis"`
	RelayHTTPURL string `env:"RELAY_HTTP_URL"`

	AttachmentBucket        string `env:"ATTACHMENT_BUCKET"`
	AttachmentPublicBaseURL string `env:"ATTACHMENT_PUBLIC_BASE_URL"`
	AttachmentMaxBytes      int64  `env:"ATTACHMENT_MAX_BYTES" envDefault:"10485760"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MarkReadConcurrency int           `env:"MARK_READ_CONCURRENCY" envDefault:"8"`
	ProvisionalWindow   time.Duration `env:"PROVISIONAL_WINDOW" envDefault:"30s"`
}

// Load reads an optional .env file from the working directory, then parses
// the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.PaymentBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PaymentBaseURL), "/")
	cfg.RelayBackend = strings.ToLower(strings.TrimSpace(cfg.RelayBackend))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ParamPrefix == "" {
		return errors.New("config: PARAM_PREFIX must not be empty")
	}
	switch c.RelayBackend {
	case RelayRedis, RelayNone:
	case RelayHTTP:
		if strings.TrimSpace(c.RelayHTTPURL) == "" {
			return errors.New("config: RELAY_HTTP_URL is required when RELAY_BACKEND=http")
		}
	default:
		return fmt.Errorf("config: unsupported RELAY_BACKEND %q", c.RelayBackend)
	}
	if c.AttachmentBucket != "" && c.AttachmentPublicBaseURL == "" {
		return errors.New("config: ATTACHMENT_PUBLIC_BASE_URL is required with ATTACHMENT_BUCKET")
	}
	if c.MarkReadConcurrency <= 0 {
		c.MarkReadConcurrency = 8
	}
	if c.ProvisionalWindow <= 0 {
		return errors.New("config: PROVISIONAL_WINDOW must be positive")
	}
	return nil
}

// UsesRedis reports whether either feed needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.RelayBackend == RelayRedis
}
