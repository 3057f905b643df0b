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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
inference:
  url: http://localhost/api/incoming-message
database:
  dsn: postgres://localhost/chatbridge
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Address)
	assert.Equal(t, "whatsapp", cfg.Protocol.Engine)
	assert.Equal(t, "postgres", cfg.AuthState.Backend)
	assert.Equal(t, 50, cfg.Pool.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Pairing.Timeout)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Bootstrap.Delay)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CHATBRIDGE_TEST_DSN", "postgres://env-host/chatbridge")

	path := writeConfigFile(t, `
database:
  dsn: ${CHATBRIDGE_TEST_DSN}
inference:
  url: http://localhost/api/incoming-message
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/chatbridge", cfg.Database.DSN)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not: valid")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		ApplyDefaults(cfg)
		cfg.Database.DSN = "postgres://localhost/chatbridge"
		cfg.Inference.URL = "http://localhost/api/incoming-message"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid postgres backend",
			mutate: func(*Config) {},
		},
		{
			name: "postgres backend without dsn",
			mutate: func(c *Config) {
				c.Database.DSN = ""
			},
			wantErr: "database.dsn",
		},
		{
			name: "file backend without dir",
			mutate: func(c *Config) {
				c.AuthState.Backend = "file"
			},
			wantErr: "auth_state.dir",
		},
		{
			name: "file backend with dir",
			mutate: func(c *Config) {
				c.AuthState.Backend = "file"
				c.AuthState.Dir = "/var/lib/chatbridge"
			},
		},
		{
			name: "memory backend needs no dsn",
			mutate: func(c *Config) {
				c.AuthState.Backend = "memory"
				c.Database.DSN = ""
			},
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.AuthState.Backend = "redis"
			},
			wantErr: "auth_state.backend",
		},
		{
			name: "zero capacity",
			mutate: func(c *Config) {
				c.Pool.Capacity = -1
			},
			wantErr: "pool.capacity",
		},
		{
			name: "missing inference url",
			mutate: func(c *Config) {
				c.Inference.URL = ""
			},
			wantErr: "inference.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
