package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Export ExportConfig `yaml:"export"`
	Worker WorkerConfig `yaml:"worker"`
	Events EventsConfig `yaml:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9310"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"30m"`
}

// StoreConfig holds remote file store configuration.
type StoreConfig struct {
	BaseURL      string        `yaml:"base_url" envconfig:"STORE_BASE_URL"`
	AuthToken    string        `yaml:"auth_token" envconfig:"STORE_AUTH_TOKEN"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"STORE_TIMEOUT" default:"30s"`
	MetadataPath string        `yaml:"metadata_path" envconfig:"STORE_METADATA_PATH" default:"/data/photoarc/metadata.db"`
}

// ExportConfig holds export pipeline configuration.
type ExportConfig struct {
	DestDir       string        `yaml:"dest_dir" envconfig:"EXPORT_DEST_DIR" default:"/data/photoarc/exports"`
	RetryAttempts int           `yaml:"retry_attempts" envconfig:"EXPORT_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"EXPORT_RETRY_DELAY" default:"200ms"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"EXPORT_MAX_RETRY_DELAY" default:"5s"`
	TuneInterval  time.Duration `yaml:"tune_interval" envconfig:"EXPORT_TUNE_INTERVAL" default:"2s"`
}

// WorkerConfig holds export worker pool configuration.
type WorkerConfig struct {
	Count        int           `yaml:"count" envconfig:"WORKER_COUNT" default:"1"`
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
}

// EventsConfig holds activity log configuration.
type EventsConfig struct {
	RingBufferSize int    `yaml:"ring_buffer_size" envconfig:"EVENTS_RING_BUFFER_SIZE" default:"1000"`
	PersistPath    string `yaml:"persist_path" envconfig:"EVENTS_PERSIST_PATH"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Server.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.Store.BaseURL == "" {
		return fmt.Errorf("STORE_BASE_URL is required")
	}
	if c.Export.RetryAttempts < 1 {
		return fmt.Errorf("EXPORT_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
