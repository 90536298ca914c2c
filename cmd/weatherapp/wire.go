package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/config"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/store"
	"github.com/i474232898/weatherapp/internal/weather"
	"github.com/i474232898/weatherapp/internal/weather/providers"
)

// buildWeatherService assembles the providers, geocoders and snapshot store.
func buildWeatherService(cfg *config.AppConfig, logger *zap.Logger) (*weather.Service, *store.MemoryStore) {
	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	plog := logger.Named("providers")

	var (
		provs     []weather.Provider
		geocoders []weather.Geocoder
	)

	if cfg.WeatherAPIKey != "" {
		wa := providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey, plog)
		provs = append(provs, wa)
		geocoders = append(geocoders, wa)
	}
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey, plog))
	}
	// Open-Meteo needs no key but only works with coordinates.
	if cfg.EnableOpenMeteo {
		provs = append(provs, providers.NewOpenMeteoProvider(httpClient, plog))
	}
	if cfg.GoogleGeocoderAPIKey != "" {
		geocoders = append(geocoders, providers.NewGoogleGeocoder(cfg.GoogleGeocoderAPIKey))
	}

	if len(provs) == 0 {
		logger.Warn("no weather providers configured")
	}
	if len(geocoders) == 0 {
		logger.Warn("no geocoder configured; cities can only be added by coordinates")
	}

	// In-memory store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	svc := weather.NewService(memStore, provs,
		weather.WithLogger(logger.Named("weather")),
		weather.WithGeocoders(geocoders...),
		weather.WithIconFetcher(providers.NewIconClient(httpClient, plog)),
		weather.WithCurrentTTL(cfg.WeatherCacheTTL),
		weather.WithForecastTTL(cfg.ForecastCacheTTL),
	)
	return svc, memStore
}

// openBackend opens the configured user and city storage.
func openBackend(ctx context.Context, cfg *config.AppConfig) (repo.Backend, error) {
	switch cfg.StorageDriver {
	case "memory":
		return repo.NewMemoryBackend(), nil
	case "sqlite", "postgres":
		b, err := repo.OpenSQL(ctx, cfg.StorageDriver, cfg.StorageDSN)
		if err != nil {
			return nil, fmt.Errorf("open %s storage: %w", cfg.StorageDriver, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
