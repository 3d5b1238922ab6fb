package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15*24*time.Hour, cfg.SessionRefreshWindow)
	assert.Equal(t, 32, cfg.MaxSessionsPerUser)
	assert.True(t, cfg.AllowRegistration)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "users", cfg.UsersNamespace)
	assert.Equal(t, "sessions", cfg.SessionsNamespace)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
store:
  backend: redis
  redis_url: redis://file:6379/0
sessions:
  ttl_days: 10
  refresh_days: 5
  max_per_user: 8
allow_registration: false
providers:
  github:
    client_id: file-id
    client_secret: file-secret
metrics:
  enabled: false
`), 0o600))

	t.Setenv("REDIS_URL", "redis://env:6379/1")
	t.Setenv("SESSION_TTL_DAYS", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.AppPort)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, "redis://env:6379/1", cfg.RedisURL, "env overrides file")
	assert.Equal(t, 20*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*24*time.Hour, cfg.SessionRefreshWindow)
	assert.Equal(t, 8, cfg.MaxSessionsPerUser)
	assert.False(t, cfg.AllowRegistration)
	assert.False(t, cfg.MetricsEnabled)
	assert.True(t, cfg.GitHubEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ProductionDisablesRegistration(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.AllowRegistration)

	t.Setenv("ALLOW_REGISTRATION", "true")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.True(t, cfg.AllowRegistration)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.GitHubClientID = "id"
		cfg.GitHubClientSecret = "secret"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"redis without url":    func(c *Config) { c.StoreBackend = BackendRedis },
		"postgres without dsn": func(c *Config) { c.StoreBackend = BackendPostgres },
		"unknown backend":      func(c *Config) { c.StoreBackend = "etcd" },
		"memory in production": func(c *Config) { c.Environment = "production" },
		"shared namespace":     func(c *Config) { c.SessionsNamespace = c.UsersNamespace },
		"refresh exceeds ttl":  func(c *Config) { c.SessionRefreshWindow = c.SessionTTL + time.Hour },
		"no providers":         func(c *Config) { c.GitHubClientID = "" },
		"non-positive max":     func(c *Config) { c.MaxSessionsPerUser = 0 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrMisconfigured)
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultPath, Path())

	t.Setenv("CONFIG_PATH", "/etc/identity/config.yaml")
	assert.Equal(t, "/etc/identity/config.yaml", Path())
}
