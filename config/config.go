// Package config provides configuration loading and management for
// Hookflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Hookflow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Queue     QueueConfig     `yaml:"queue"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Engine    EngineConfig    `yaml:"engine"`
	History   HistoryConfig   `yaml:"history"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	NATS      NATSConfig      `yaml:"nats"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr string `yaml:"addr"`
	// ReadTimeout bounds request reads
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds response writes
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WebhookConfig configures ingress verification.
type WebhookConfig struct {
	// Secret is the HMAC-SHA256 secret; empty disables verification
	Secret string `yaml:"secret"`
}

// QueueConfig configures the bounded event queue.
type QueueConfig struct {
	// Capacity is the maximum number of queued events
	Capacity int `yaml:"capacity"`
	// MaxRetries is the per-event redelivery budget
	MaxRetries int `yaml:"max_retries"`
}

// DedupConfig configures the duplicate-delivery cache.
type DedupConfig struct {
	// TTL is how long a delivery stays remembered
	TTL time.Duration `yaml:"ttl"`
	// Capacity bounds the in-memory cache entry count
	Capacity int `yaml:"capacity"`
	// RedisURL switches to the shared Redis cache when set
	RedisURL string `yaml:"redis_url"`
}

// EngineConfig configures workflow execution.
type EngineConfig struct {
	// Timeout is the default execution and action timeout
	Timeout time.Duration `yaml:"timeout"`
	// LenientTemplates substitutes defaults for unresolved templates
	// instead of failing the action
	LenientTemplates bool `yaml:"lenient_templates"`
}

// HistoryConfig configures execution history.
type HistoryConfig struct {
	// CompletedCapacity bounds the in-memory completed cache
	CompletedCapacity int `yaml:"completed_capacity"`
	// Retention prunes persisted snapshots older than this (0 = keep all)
	Retention time.Duration `yaml:"retention"`
	// PostgresDSN switches persistence to Postgres when set
	PostgresDSN string `yaml:"postgres_dsn"`
}

// WorkflowsConfig configures definition loading.
type WorkflowsConfig struct {
	// Dir is the directory holding workflow definition files
	Dir string `yaml:"dir"`
	// Watch reloads definitions on file changes
	Watch bool `yaml:"watch"`
}

// NATSConfig configures lifecycle event publishing.
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			Capacity:   1000,
			MaxRetries: 3,
		},
		Dedup: DedupConfig{
			TTL:      5 * time.Minute,
			Capacity: 10000,
		},
		Engine: EngineConfig{
			Timeout: 5 * time.Minute,
		},
		History: HistoryConfig{
			CompletedCapacity: 1000,
			Retention:         30 * 24 * time.Hour,
		},
		Workflows: WorkflowsConfig{
			Dir:   "workflows",
			Watch: true,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative")
	}
	if c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup.ttl must be positive")
	}
	if c.Dedup.Capacity <= 0 {
		return fmt.Errorf("dedup.capacity must be positive")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.History.CompletedCapacity <= 0 {
		return fmt.Errorf("history.completed_capacity must be positive")
	}
	if c.Workflows.Dir == "" {
		return fmt.Errorf("workflows.dir is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}

	// Webhook
	if other.Webhook.Secret != "" {
		c.Webhook.Secret = other.Webhook.Secret
	}

	// Queue
	if other.Queue.Capacity != 0 {
		c.Queue.Capacity = other.Queue.Capacity
	}
	if other.Queue.MaxRetries != 0 {
		c.Queue.MaxRetries = other.Queue.MaxRetries
	}

	// Dedup
	if other.Dedup.TTL != 0 {
		c.Dedup.TTL = other.Dedup.TTL
	}
	if other.Dedup.Capacity != 0 {
		c.Dedup.Capacity = other.Dedup.Capacity
	}
	if other.Dedup.RedisURL != "" {
		c.Dedup.RedisURL = other.Dedup.RedisURL
	}

	// Engine
	if other.Engine.Timeout != 0 {
		c.Engine.Timeout = other.Engine.Timeout
	}
	if other.Engine.LenientTemplates {
		c.Engine.LenientTemplates = true
	}

	// History
	if other.History.CompletedCapacity != 0 {
		c.History.CompletedCapacity = other.History.CompletedCapacity
	}
	if other.History.Retention != 0 {
		c.History.Retention = other.History.Retention
	}
	if other.History.PostgresDSN != "" {
		c.History.PostgresDSN = other.History.PostgresDSN
	}

	// Workflows
	if other.Workflows.Dir != "" {
		c.Workflows.Dir = other.Workflows.Dir
	}
	if other.Workflows.Watch {
		c.Workflows.Watch = true
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
}
