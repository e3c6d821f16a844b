package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "dev", cfg.Auth.Mode)
	assert.Equal(t, "none", cfg.Notify.Mode)
	assert.Equal(t, "svs@svs.io", cfg.Notify.Recipient)
	assert.True(t, cfg.DBMigrate)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
}

func TestFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
database_url: postgres://file
rate_limit:
  rps: 5
  burst: 10
notify:
  mode: webhook
  webhook_url: http://hooks.local/admin
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := LoadFrom(path, envMap(map[string]string{
		"PORT":       "9100",
		"RATE_BURST": "3",
		"DB_MIGRATE": "false",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "env beats file")
	assert.Equal(t, "postgres://file", cfg.DatabaseURL)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.False(t, cfg.DBMigrate)
	assert.Equal(t, "webhook", cfg.Notify.Mode)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Notify.MaxAttempts, "defaults survive partial files")
}

func TestMalformedEnv(t *testing.T) {
	_, err := LoadFrom("", envMap(map[string]string{"RATE_RPS": "fast"}))
	assert.ErrorContains(t, err, "RATE_RPS")
}

func TestValidate(t *testing.T) {
	_, err := LoadFrom("", envMap(map[string]string{"AUTH_MODE": "hmac"}))
	assert.ErrorContains(t, err, "AUTH_HMAC_SECRET")
	_, err = LoadFrom("", envMap(map[string]string{"NOTIFY_MODE": "amqp"}))
	assert.ErrorContains(t, err, "AMQP_URL")
	_, err = LoadFrom("", envMap(map[string]string{"NOTIFY_MODE": "pigeon"}))
	assert.Error(t, err)
	cfg, err := LoadFrom("", envMap(map[string]string{"AUTH_MODE": "HMAC", "AUTH_HMAC_SECRET": "s"}))
	require.NoError(t, err)
	assert.Equal(t, "hmac", cfg.Auth.Mode)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))
	assert.Error(t, err)
}
