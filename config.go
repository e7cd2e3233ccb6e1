package oddlytics

import (
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Default configuration values.
const (
	DefaultBatchSize     = 50
	DefaultBatchInterval = 30 * time.Second
	DefaultTimeout       = 10 * time.Second
	DefaultMaxQueueSize  = 1000
)

// envPrefix namespaces the environment variables read by ConfigFromEnv.
const envPrefix = "ODDLYTICS_"

// Config holds the engine configuration. It is copied by Configure and never
// changes for the lifetime of the engine.
type Config struct {
	// Endpoint is the collection endpoint base URL (required, e.g., "https://t.example.com")
	Endpoint string `env:"ENDPOINT"`

	// APIKey is sent in the X-API-KEY header (required)
	APIKey string `env:"API_KEY"`

	// AppID is stamped on every event (required)
	AppID string `env:"APP_ID"`

	// BatchSize is the queue length that triggers an immediate flush (default: 50)
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`

	// BatchInterval is the periodic flush interval (default: 30s)
	BatchInterval time.Duration `env:"BATCH_INTERVAL" envDefault:"30s"`

	// Debug enables verbose logging of every enqueue and delivery (default: false)
	Debug bool `env:"DEBUG" envDefault:"false"`

	// Timeout bounds each delivery request (default: 10s)
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`

	// MaxQueueSize caps the queue when failed events are requeued (default: 1000)
	MaxQueueSize int `env:"MAX_QUEUE_SIZE" envDefault:"1000"`

	// Platform is stamped on every event (default: runtime.GOOS)
	Platform string `env:"PLATFORM"`
}

// ConfigFromEnv reads the configuration from ODDLYTICS_* environment
// variables. The result is not validated; Configure does that.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("oddlytics: parse environment: %w", err)
	}
	return cfg, nil
}

// validate checks that required fields are set and values are valid.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return &ConfigurationError{Field: "endpoint", Err: errors.New("is required")}
	}

	parsed, err := url.Parse(c.Endpoint)
	if err != nil {
		return &ConfigurationError{Field: "endpoint", Err: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ConfigurationError{Field: "endpoint", Err: fmt.Errorf("scheme must be http or https, got %q", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return &ConfigurationError{Field: "endpoint", Err: errors.New("must be an absolute URL with a host")}
	}

	if strings.TrimSpace(c.APIKey) == "" {
		return &ConfigurationError{Field: "api_key", Err: errors.New("is required")}
	}
	if strings.TrimSpace(c.AppID) == "" {
		return &ConfigurationError{Field: "app_id", Err: errors.New("is required")}
	}

	if c.BatchSize < 0 {
		return &ConfigurationError{Field: "batch_size", Err: errors.New("must be non-negative")}
	}
	if c.BatchInterval < 0 {
		return &ConfigurationError{Field: "batch_interval", Err: errors.New("must be non-negative")}
	}
	if c.Timeout < 0 {
		return &ConfigurationError{Field: "timeout", Err: errors.New("must be non-negative")}
	}
	if c.MaxQueueSize < 0 {
		return &ConfigurationError{Field: "max_queue_size", Err: errors.New("must be non-negative")}
	}

	return nil
}

// withDefaults returns a copy of the config with default values applied.
func (c Config) withDefaults() Config {
	cfg := c

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchInterval == 0 {
		cfg.BatchInterval = DefaultBatchInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxQueueSize == 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.Platform == "" {
		cfg.Platform = runtime.GOOS
	}

	return cfg
}
