package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvPrefix("MEDIAFLOW_TEST_NONE").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").WithEnvPrefix("MEDIAFLOW_TEST_NONE").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  http_port: 8888
  read_timeout: 60s
proxy:
  enabled: true
  url: http://proxy.internal:3128
  exclude: [internal.example.com]
storage:
  bucket: media
  region: us-east-1
providers:
  bfl:
    api_key: bfl-key
    model: flux-pro-1.1
    poll:
      interval: 2s
      max_attempts: 30
  volc_visual:
    access_key_id: AK
    secret_access_key: SK
    region: cn-north-1
`)
	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("MEDIAFLOW_TEST_NONE").Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Proxy.Enabled)
	assert.Equal(t, []string{"internal.example.com"}, cfg.Proxy.Exclude)
	assert.True(t, cfg.Storage.Enabled())
	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 4, cfg.Storage.Concurrency)
	assert.Equal(t, "bfl-key", cfg.Providers.BFL.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Providers.BFL.Poll.Interval)
	assert.Equal(t, 30, cfg.Providers.BFL.Poll.MaxAttempts)
	assert.Equal(t, "AK", cfg.Providers.VolcVisual.AccessKeyID)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  http_port: 8888\n")
	t.Setenv("MFTEST_SERVER_HTTP_PORT", "7000")
	t.Setenv("MFTEST_LOG_OUTPUT_PATHS", "stdout, /var/log/mf.log")
	t.Setenv("MFTEST_PROVIDERS_RUNWAY_API_KEY", "rw-key")
	t.Setenv("MFTEST_PROVIDERS_TRIPO_POLL_INTERVAL", "7s")
	t.Setenv("MFTEST_SERVER_RATE_LIMIT_RPS", "2.5")

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("MFTEST").Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"stdout", "/var/log/mf.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "rw-key", cfg.Providers.Runway.APIKey)
	assert.Equal(t, 7*time.Second, cfg.Providers.Tripo.Poll.Interval)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
}

func TestLoader_DotEnvFillsGaps(t *testing.T) {
	envFile := writeFile(t, ".env", "MFDOT_PROVIDERS_FAL_API_KEY=from-dotenv\nMFDOT_PROVIDERS_ARK_API_KEY=from-dotenv\n")
	t.Setenv("MFDOT_PROVIDERS_ARK_API_KEY", "from-process")

	cfg, err := NewLoader().WithEnvPrefix("MFDOT").WithDotEnv(envFile, "/nonexistent/.env").Load()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Providers.Fal.APIKey)
	assert.Equal(t, "from-process", cfg.Providers.Ark.APIKey)
	_, leaked := os.LookupEnv("MFDOT_PROVIDERS_FAL_API_KEY")
	assert.False(t, leaked)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("MFBAD_SERVER_READ_TIMEOUT", "soon")
	_, err := NewLoader().WithEnvPrefix("MFBAD").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MFBAD_SERVER_READ_TIMEOUT")
}

func TestLoader_ValidationRuns(t *testing.T) {
	path := writeFile(t, "config.yaml", "log:\n  level: loud\n")
	_, err := NewLoader().WithConfigPath(path).WithEnvPrefix("MEDIAFLOW_TEST_NONE").Load()
	assert.Error(t, err)

	_, err = NewLoader().WithEnvPrefix("MEDIAFLOW_TEST_NONE").WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	assert.ErrorIs(t, err, assert.AnError)
}
