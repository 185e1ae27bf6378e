package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"timelineboard/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
backend:
  url: http://backend:3000
  timeout_seconds: 4
layout:
  scale: days
  row_height: 40
outbox:
  max_retries: 3
view_idle_seconds: 120
`)
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_SERVICE_TOKEN", "svc")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://backend:3000", cfg.Backend.URL)
	assert.Equal(t, 4*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, "svc", cfg.Backend.ServiceToken)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, timeline.ScaleDays, cfg.Layout.Scale)
	assert.Equal(t, 40.0, cfg.Layout.RowHeight)
	assert.Equal(t, 3, cfg.Outbox.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Outbox.Interval())
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.ViewIdleTTL())
	assert.Equal(t, 3*time.Second, cfg.DedupTTL())
	assert.False(t, cfg.DB.Enabled())
}

func TestLoad_LayeredDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "base.yaml"), `
server:
  port: ":9000"
backend:
  url: http://localhost:3000
jwt:
  secret: ${JWT_KEY}
`)
	writeFile(t, filepath.Join(dir, "staging.yaml"), `
backend:
  url: http://staging:3000
`)
	writeFile(t, filepath.Join(dir, "secrets.env"), "JWT_KEY=from-secrets\n")
	t.Setenv("CONFIG_ENV", "staging")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "http://staging:3000", cfg.Backend.URL)
	assert.Equal(t, "from-secrets", cfg.JWT.Secret)
}

func TestLoad_RequiresBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  port: \":8080\"\n")
	t.Setenv("BACKEND_URL", "")

	_, err := Load(path)
	assert.Error(t, err)
}
