package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "hookflow.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/hookflow"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/hookflow/config.yaml)
// 3. Project config (hookflow.yaml in current or parent directories)
// 4. Environment variables (HOOKFLOW_*)
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if err := config.FromEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFile loads one explicit config file over the defaults and the
// environment, skipping the layered search.
func (l *Loader) LoadFile(path string) (*Config, error) {
	config := DefaultConfig()

	fileConfig, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	config.Merge(fileConfig)

	if err := config.FromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// FromEnv applies HOOKFLOW_* environment variable overrides.
func (c *Config) FromEnv() error {
	if v := os.Getenv("HOOKFLOW_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("HOOKFLOW_WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if err := envInt("HOOKFLOW_QUEUE_CAPACITY", &c.Queue.Capacity); err != nil {
		return err
	}
	if err := envInt("HOOKFLOW_QUEUE_MAX_RETRIES", &c.Queue.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("HOOKFLOW_DEDUP_TTL", &c.Dedup.TTL); err != nil {
		return err
	}
	if err := envInt("HOOKFLOW_DEDUP_CAPACITY", &c.Dedup.Capacity); err != nil {
		return err
	}
	if v := os.Getenv("HOOKFLOW_REDIS_URL"); v != "" {
		c.Dedup.RedisURL = v
	}
	if err := envDuration("HOOKFLOW_ENGINE_TIMEOUT", &c.Engine.Timeout); err != nil {
		return err
	}
	if err := envBool("HOOKFLOW_LENIENT_TEMPLATES", &c.Engine.LenientTemplates); err != nil {
		return err
	}
	if err := envInt("HOOKFLOW_HISTORY_CAPACITY", &c.History.CompletedCapacity); err != nil {
		return err
	}
	if err := envDuration("HOOKFLOW_HISTORY_RETENTION", &c.History.Retention); err != nil {
		return err
	}
	if v := os.Getenv("HOOKFLOW_POSTGRES_DSN"); v != "" {
		c.History.PostgresDSN = v
	}
	if v := os.Getenv("HOOKFLOW_WORKFLOWS_DIR"); v != "" {
		c.Workflows.Dir = v
	}
	if err := envBool("HOOKFLOW_WORKFLOWS_WATCH", &c.Workflows.Watch); err != nil {
		return err
	}
	if v := os.Getenv("HOOKFLOW_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	return nil
}

func envInt(name string, target *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", name, v)
	}
	*target = n
	return nil
}

func envDuration(name string, target *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, v)
	}
	*target = d
	return nil
}

func envBool(name string, target *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", name, v)
	}
	*target = b
	return nil
}

// userConfigPath returns the path to the user config file.
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for hookflow.yaml in current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
