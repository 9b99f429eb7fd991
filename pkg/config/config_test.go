package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  dsn: postgres://localhost/vendorchain
ledger:
  submit_base_url: http://ledger-gateway:8000/api/v1
  query_base_url: http://couchdb:5984
auth:
  jwt_secret: s3cret
users:
  - username: admin
    password: admin
    role: admin
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Ledger.Timeout.Std())
	assert.Equal(t, 24, cfg.Auth.TokenExpireHours)
	assert.Equal(t, 5*time.Minute, cfg.Tamper.Interval.Std())
	assert.Equal(t, 30, cfg.Tamper.WindowMinutes)
}

func TestLoadExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
ledger:
  submit_base_url: http://ledger:8000
  degraded_mode: true
  max_attempts: 5
tamper:
  interval: 1m
  window_minutes: 10
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Ledger.DegradedMode)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Tamper.Interval.Std())
	assert.Equal(t, 10, cfg.Tamper.WindowMinutes)
}

func TestFindUser(t *testing.T) {
	cfg := &Config{Users: []User{{Username: "ops", Password: "pw", Role: "operator"}}}
	require.NotNil(t, cfg.FindUser("ops"))
	assert.Nil(t, cfg.FindUser("ghost"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
