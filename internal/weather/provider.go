package weather

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoData is returned when no provider produced a usable reading.
	ErrNoData = errors.New("no weather data available")
	// ErrLocationNotFound is returned by geocoders that cannot resolve a query.
	ErrLocationNotFound = errors.New("location not found")
)

// ProviderReading represents a single provider's normalized reading
// that can be aggregated into a WeatherSnapshot. HasRange reports whether
// TempMinC and TempMaxC were supplied by the provider.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC float64
	TempMinC     float64
	TempMaxC     float64
	HasRange     bool
	HumidityPct  float64
	WindSpeedMS  float64
	PressureHpa  float64
	PrecipMm     float64
	Condition    Condition
	Description  string
	IconURL      string
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (ProviderReading, error)
}

// ForecastProvider is implemented by providers able to return multi-day readings.
// Readings may be daily or finer grained; the service buckets them per UTC day.
type ForecastProvider interface {
	Provider
	FetchForecast(ctx context.Context, loc Location, days int) ([]ProviderReading, error)
}

// Geocoder resolves city names to coordinates and back.
type Geocoder interface {
	Locate(ctx context.Context, name string) (Location, error)
	Reverse(ctx context.Context, lat, lon float64) (Location, error)
}

// IconFetcher downloads the image behind a condition icon URL.
type IconFetcher interface {
	FetchIcon(ctx context.Context, url string) ([]byte, string, error)
}

// Store is the contract the in-memory store (and any future persistent store) must satisfy.
type Store interface {
	SaveSnapshot(loc Location, snapshot WeatherSnapshot)
	GetLatest(loc Location) (WeatherSnapshot, error)
	GetRange(loc Location, from, to time.Time) ([]WeatherSnapshot, error)
}
