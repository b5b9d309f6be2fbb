package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8081", cfg.Listen)
	assert.Equal(t, 0, cfg.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout())
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout())
	assert.Equal(t, 120*time.Second, cfg.KeepAliveIdle())
	assert.Equal(t, 3*time.Second, cfg.KeepAliveInterval())
	assert.Equal(t, 5, cfg.KeepAlive.Count)
	assert.Equal(t, 5, cfg.Throttle.Limit)
	assert.Equal(t, time.Minute, cfg.ThrottleWindow())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Redis.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("overrides defaults with file values", func(t *testing.T) {
		path := writeConfigFile(t, `
listen: "0.0.0.0:9000"
pool_size: 8
read_timeout_seconds: 60
throttle:
  limit: 3
  window_seconds: 120
redis:
  addr: "127.0.0.1:6379"
  db: 2
log:
  level: debug
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
		assert.Equal(t, 8, cfg.PoolSize)
		assert.Equal(t, 60*time.Second, cfg.ReadTimeout())
		assert.Equal(t, 3, cfg.Throttle.Limit)
		assert.Equal(t, 2*time.Minute, cfg.ThrottleWindow())
		assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
		assert.Equal(t, 2, cfg.Redis.DB)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("keeps defaults for absent keys", func(t *testing.T) {
		path := writeConfigFile(t, `listen: ":9000"`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, ":9000", cfg.Listen)
		assert.Equal(t, 30*time.Second, cfg.ReadTimeout())
		assert.Equal(t, 5, cfg.Throttle.Limit)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml is an error", func(t *testing.T) {
		path := writeConfigFile(t, "listen: [unterminated")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := writeConfigFile(t, `listen: ""`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"empty listen address", func(c *Config) { c.Listen = "" }, true},
		{"negative pool size", func(c *Config) { c.PoolSize = -1 }, true},
		{"zero keep-alive idle", func(c *Config) { c.KeepAlive.IdleSeconds = 0 }, true},
		{"zero keep-alive count", func(c *Config) { c.KeepAlive.Count = 0 }, true},
		{"negative read timeout", func(c *Config) { c.ReadTimeoutSeconds = -1 }, true},
		{"zero timeouts are allowed", func(c *Config) {
			c.ReadTimeoutSeconds = 0
			c.WriteTimeoutSeconds = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
