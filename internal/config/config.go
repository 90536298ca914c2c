package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port string `yaml:"port"`

	OpenWeatherAPIKey    string `yaml:"openweather_api_key"`
	WeatherAPIKey        string `yaml:"weatherapi_api_key"`
	GoogleGeocoderAPIKey string `yaml:"google_geocoder_api_key"`
	EnableOpenMeteo      bool   `yaml:"enable_openmeteo"`

	// HTTPTimeout bounds every outbound provider call.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// FetchInterval controls how often current weather is refreshed for tracked cities.
	FetchInterval time.Duration `yaml:"fetch_interval"`

	MonitorInterval     time.Duration `yaml:"monitor_interval"`
	MonitorForecastDays int           `yaml:"monitor_forecast_days"`

	WeatherCacheTTL  time.Duration `yaml:"weather_cache_ttl"`
	ForecastCacheTTL time.Duration `yaml:"forecast_cache_ttl"`

	// In-memory store retention.
	StoreMaxHistory int           `yaml:"store_max_history"` // max number of snapshots per location (0 = unlimited)
	StoreMaxAge     time.Duration `yaml:"store_max_age"`     // max age of snapshots (0 = unlimited)

	StorageDriver string `yaml:"storage_driver"` // memory, sqlite or postgres
	StorageDSN    string `yaml:"storage_dsn"`

	SessionTTL           time.Duration `yaml:"session_ttl"`
	SessionSweepInterval time.Duration `yaml:"session_sweep_interval"`

	NotifyHistory int `yaml:"notify_history"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json or console
}

// Default returns the configuration used when nothing is set.
func Default() *AppConfig {
	return &AppConfig{
		Port:                 "8080",
		EnableOpenMeteo:      true,
		HTTPTimeout:          10 * time.Second,
		FetchInterval:        15 * time.Minute,
		MonitorInterval:      time.Hour,
		MonitorForecastDays:  3,
		WeatherCacheTTL:      10 * time.Minute,
		ForecastCacheTTL:     30 * time.Minute,
		StoreMaxHistory:      96, // roughly 24h at 15-minute intervals
		StoreMaxAge:          24 * time.Hour,
		StorageDriver:        "sqlite",
		StorageDSN:           "weatherapp.db",
		SessionTTL:           7 * 24 * time.Hour,
		SessionSweepInterval: 10 * time.Minute,
		NotifyHistory:        20,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path and
// finally the environment (a .env file is honored when present).
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) loadEnv() error {
	c.Port = getenvDefault("PORT", c.Port)
	c.OpenWeatherAPIKey = getenvDefault("OPENWEATHER_API_KEY", c.OpenWeatherAPIKey)
	c.WeatherAPIKey = getenvDefault("WEATHERAPI_API_KEY", c.WeatherAPIKey)
	c.GoogleGeocoderAPIKey = getenvDefault("GOOGLE_GEOCODER_API_KEY", c.GoogleGeocoderAPIKey)
	c.EnableOpenMeteo = getenvBool("ENABLE_OPENMETEO", c.EnableOpenMeteo)

	c.MonitorForecastDays = getenvInt("MONITOR_FORECAST_DAYS", c.MonitorForecastDays)
	c.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", c.StoreMaxHistory)
	c.NotifyHistory = getenvInt("NOTIFY_HISTORY", c.NotifyHistory)

	c.StorageDriver = strings.ToLower(getenvDefault("STORAGE_DRIVER", c.StorageDriver))
	c.StorageDSN = getenvDefault("STORAGE_DSN", c.StorageDSN)
	c.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", c.LogFormat))

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", &c.HTTPTimeout},
		{"FETCH_INTERVAL", &c.FetchInterval},
		{"MONITOR_INTERVAL", &c.MonitorInterval},
		{"WEATHER_CACHE_TTL", &c.WeatherCacheTTL},
		{"FORECAST_CACHE_TTL", &c.ForecastCacheTTL},
		{"STORE_MAX_AGE", &c.StoreMaxAge},
		{"SESSION_TTL", &c.SessionTTL},
		{"SESSION_SWEEP_INTERVAL", &c.SessionSweepInterval},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	if c.StorageDriver != "memory" && c.StorageDSN == "" {
		errs = append(errs, errors.New("STORAGE_DSN is required"))
	}
	if c.MonitorForecastDays < 1 || c.MonitorForecastDays > 7 {
		errs = append(errs, fmt.Errorf("MONITOR_FORECAST_DAYS must be between 1 and 7, got %d", c.MonitorForecastDays))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be positive"))
	}
	if c.MonitorInterval <= 0 {
		errs = append(errs, errors.New("MONITOR_INTERVAL must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
