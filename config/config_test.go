package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Dedup.TTL)
	assert.Equal(t, 10000, cfg.Dedup.Capacity)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero queue capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"zero dedup ttl", func(c *Config) { c.Dedup.TTL = 0 }},
		{"zero engine timeout", func(c *Config) { c.Engine.Timeout = 0 }},
		{"empty workflows dir", func(c *Config) { c.Workflows.Dir = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hookflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
webhook:
  secret: topsecret
queue:
  capacity: 50
dedup:
  ttl: 2m
history:
  postgres_dsn: postgres://localhost/hookflow
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "topsecret", cfg.Webhook.Secret)
	assert.Equal(t, 50, cfg.Queue.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Dedup.TTL)
	assert.Equal(t, "postgres://localhost/hookflow", cfg.History.PostgresDSN)
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Server:  ServerConfig{Addr: ":9999"},
		Webhook: WebhookConfig{Secret: "s"},
		Queue:   QueueConfig{Capacity: 10},
	})

	assert.Equal(t, ":9999", base.Server.Addr)
	assert.Equal(t, "s", base.Webhook.Secret)
	assert.Equal(t, 10, base.Queue.Capacity)
	// Untouched values keep their defaults.
	assert.Equal(t, 3, base.Queue.MaxRetries)
	assert.Equal(t, 5*time.Minute, base.Dedup.TTL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HOOKFLOW_WEBHOOK_SECRET", "env-secret")
	t.Setenv("HOOKFLOW_QUEUE_CAPACITY", "77")
	t.Setenv("HOOKFLOW_DEDUP_TTL", "90s")
	t.Setenv("HOOKFLOW_WORKFLOWS_WATCH", "false")
	t.Setenv("HOOKFLOW_NATS_URL", "nats://localhost:4222")

	cfg := DefaultConfig()
	require.NoError(t, cfg.FromEnv())
	assert.Equal(t, "env-secret", cfg.Webhook.Secret)
	assert.Equal(t, 77, cfg.Queue.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Dedup.TTL)
	assert.False(t, cfg.Workflows.Watch)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("HOOKFLOW_QUEUE_CAPACITY", "many")
	cfg := DefaultConfig()
	assert.Error(t, cfg.FromEnv())
}

func TestLoadFileAppliesEnvOnTop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hookflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  capacity: 50\n"), 0644))

	t.Setenv("HOOKFLOW_QUEUE_CAPACITY", "200")

	cfg, err := NewLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Queue.Capacity, "environment wins over file")
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Webhook.Secret = "persisted"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "persisted", loaded.Webhook.Secret)
	assert.Equal(t, cfg.Queue.Capacity, loaded.Queue.Capacity)
}
