package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray .env file is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.FetchInterval)
	assert.Equal(t, time.Hour, cfg.MonitorInterval)
	assert.Equal(t, 3, cfg.MonitorForecastDays)
	assert.Equal(t, "sqlite", cfg.StorageDriver)
	assert.True(t, cfg.EnableOpenMeteo)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "weatherapp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
fetch_interval: 5m
monitor_forecast_days: 5
storage_driver: memory
enable_openmeteo: false
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("MONITOR_INTERVAL", "30m")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.FetchInterval)
	assert.Equal(t, 30*time.Minute, cfg.MonitorInterval)
	assert.Equal(t, 5, cfg.MonitorForecastDays)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.EnableOpenMeteo)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHERAPI_API_KEY=from-dotenv\n"), 0o600))
	// godotenv never overrides variables that already exist, even empty ones.
	t.Setenv("WEATHERAPI_API_KEY", "")
	require.NoError(t, os.Unsetenv("WEATHERAPI_API_KEY"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.WeatherAPIKey)
}

func TestLoad_Errors(t *testing.T) {
	chdir(t)

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("FETCH_INTERVAL", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "FETCH_INTERVAL")
	})
	t.Run("bad driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "mongo")
		_, err := Load("")
		assert.ErrorContains(t, err, "STORAGE_DRIVER")
	})
	t.Run("forecast days out of range", func(t *testing.T) {
		t.Setenv("MONITOR_FORECAST_DAYS", "9")
		_, err := Load("")
		assert.ErrorContains(t, err, "MONITOR_FORECAST_DAYS")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := Load("does-not-exist.yaml")
		assert.Error(t, err)
	})
}
