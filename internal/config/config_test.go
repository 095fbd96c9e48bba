package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	base := `
server:
  port: ":9090"
db:
  host: localhost
  password: ${DB_PASS}
storage:
  driver: memory
dispatcher:
  interval: 5s
  workers: 2
retry:
  max_attempts: 7
  base_delay: 10s
push:
  driver: http
  endpoint: http://gateway/send
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte("dispatcher:\n  batch_size: 25\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("DB_PASS=s3cret\n"), 0o600))

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("PUSH_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.Interval)
	assert.Equal(t, 2, cfg.Dispatcher.Workers)
	assert.Equal(t, 25, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Dispatcher.ClaimTimeout)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, "from-env", cfg.Push.APIKey)
	assert.Equal(t, "http://gateway/send", cfg.Push.Endpoint)
	assert.Equal(t, time.Hour, cfg.Dedup.TTLFloor)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{App: AppConfig{TimeZone: "Not/AZone"}}
	assert.Equal(t, time.UTC, cfg.Location())
}
