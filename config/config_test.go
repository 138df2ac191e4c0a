package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: local
storage_path: /tmp/payroll.db
http_server:
  address: "127.0.0.1:9000"
log:
  format: console
`), 0o644))
	t.Setenv("PAYROLL_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "/tmp/payroll.db", cfg.StoragePath)
	assert.Equal(t, "127.0.0.1:9000", cfg.Address)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "./data/artifacts", cfg.ArtifactDir)
}

func TestLoad_MissingFileFallsBackToEnvironment(t *testing.T) {
	t.Setenv("PAYROLL_HTTP_ADDRESS", ":7000")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Address)
}
