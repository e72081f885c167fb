package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/redarch/logging-go/event"
)

// Environment variables recognised by FromEnv and Load.
const (
	EnvURL        = "RARCH_LOGGING_URL"
	EnvAPIKey     = "RARCH_LOGGING_API_KEY"
	EnvService    = "RARCH_LOGGING_SERVICE"
	EnvLevel      = "RARCH_LOGGING_DEFAULT_LEVEL"
	EnvBufferRoot = "RARCH_LOGGING_BUFFER_ROOT"
)

// Default values applied when fields are absent.
const (
	DefaultURL            = "http://localhost:8080/log"
	DefaultBufferRoot     = "./var/log"
	DefaultMaxBufferSize  = 5 * 1024 * 1024
	DefaultRequestTimeout = 2 * time.Second
	DefaultQueueSize      = 1000
	DefaultEnqueueTimeout = 250 * time.Millisecond
	DefaultBatchSize      = 100
	DefaultBatchWait      = time.Second
	DefaultFlushTimeout   = 5 * time.Second
	DefaultMaxAttempts    = 3
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 10 * time.Second
	DefaultRetryInterval  = 30 * time.Second
	DefaultTokenTTL       = time.Hour
)

// Config is the full client configuration. Fields map 1:1 to
// config.example.yaml.
type Config struct {
	// Service is the logical service name; required. It names the buffer
	// directory and becomes the credential subject.
	Service string `yaml:"service"`

	// LoggerName defaults to Service.
	LoggerName string `yaml:"logger_name"`

	// Level is the minimum level the convenience methods emit at.
	Level string `yaml:"level"`

	// URL is the collection endpoint batches are POSTed to.
	URL string `yaml:"url"`

	// APIKey signs the delivery credentials. Not read from YAML — set it
	// via RARCH_LOGGING_API_KEY or in code, never in a config file.
	APIKey string `yaml:"-"`

	// RequestTimeout bounds each delivery request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Gzip enables request body compression.
	Gzip bool `yaml:"gzip"`

	// BufferRoot is the directory under which per-service buffer files live:
	// <buffer_root>/<service>/buffer.jsonl.
	BufferRoot string `yaml:"buffer_root"`

	// FsyncOnAppend syncs every buffer append to stable storage. Durable
	// across power loss, at a latency cost on the overflow path.
	FsyncOnAppend bool `yaml:"fsync_on_append"`

	// MaxBufferSize caps the active buffer file in bytes; when an append
	// would exceed it the file is rotated to an archive that the worker
	// drains later. 0 disables rotation.
	MaxBufferSize int64 `yaml:"max_buffer_size"`

	// QueueSize bounds the in-memory queue.
	QueueSize int `yaml:"queue_size"`

	// EnqueueTimeout is how long Emit waits on a full queue before writing
	// the event straight to the disk buffer.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`

	// BatchSize is the maximum events per delivery; 1 means single-event
	// delivery.
	BatchSize int `yaml:"batch_size"`

	// BatchWait is the longest a partial batch waits before being sent.
	BatchWait time.Duration `yaml:"batch_wait"`

	// FlushTimeout bounds the implicit flush performed by Close().
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// MaxAttempts is how many consecutive transient failures a batch may
	// see before it is parked in the disk buffer.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase and BackoffMax shape the retry delay:
	// min(base·2^(n−1), max) with ±25% jitter.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// RetryInterval is how often the disk buffer is replayed while running.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// TokenTTL is the validity window of minted credentials.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// StrictClose makes Emit return ErrLoggerClosed after Close instead of
	// silently persisting the event to the disk buffer.
	StrictClose bool `yaml:"strict_close"`
}

// Default returns a Config pre-populated with the documented defaults.
// Service is intentionally left empty; it has no sensible default.
func Default() Config {
	return Config{
		Level:          event.LevelDebug.String(),
		URL:            DefaultURL,
		RequestTimeout: DefaultRequestTimeout,
		BufferRoot:     DefaultBufferRoot,
		MaxBufferSize:  DefaultMaxBufferSize,
		QueueSize:      DefaultQueueSize,
		EnqueueTimeout: DefaultEnqueueTimeout,
		BatchSize:      DefaultBatchSize,
		BatchWait:      DefaultBatchWait,
		FlushTimeout:   DefaultFlushTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		BackoffBase:    DefaultBackoffBase,
		BackoffMax:     DefaultBackoffMax,
		RetryInterval:  DefaultRetryInterval,
		TokenTTL:       DefaultTokenTTL,
	}
}

// FromEnv returns Default overlaid with the RARCH_LOGGING_* environment
// variables.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvURL); v != "" {
		c.URL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvService); v != "" {
		c.Service = v
	}
	if v := os.Getenv(EnvLevel); v != "" {
		c.Level = v
	}
	if v := os.Getenv(EnvBufferRoot); v != "" {
		c.BufferRoot = v
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment on top.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MinLevel parses the configured minimum level.
func (c Config) MinLevel() (event.Level, error) {
	if c.Level == "" {
		return event.LevelDebug, nil
	}
	return event.ParseLevel(c.Level)
}

// Validate checks required fields and structural constraints.
func (c Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("config: service is required")
	}
	if c.URL == "" {
		return fmt.Errorf("config: url is required")
	}
	if _, err := c.MinLevel(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("config: queue_size must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be positive")
	}
	if c.BatchWait <= 0 {
		return fmt.Errorf("config: batch_wait must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("config: backoff_base must be positive and <= backoff_max")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("config: retry_interval must be positive")
	}
	if c.MaxBufferSize < 0 {
		return fmt.Errorf("config: max_buffer_size must be zero or positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token_ttl must be positive")
	}
	return nil
}
