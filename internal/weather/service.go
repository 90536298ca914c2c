package weather

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service orchestrates fetching from multiple providers and persisting snapshots.
type Service struct {
	store     Store
	providers []Provider
	geocoders []Geocoder
	icons     IconFetcher
	logger    *zap.Logger

	currentTTL  time.Duration
	forecastTTL time.Duration
	now         func() time.Time

	mu        sync.Mutex
	lastFetch map[string]time.Time
	forecasts map[string]cachedForecast
	iconCache map[string]cachedIcon
}

type cachedForecast struct {
	forecast  Forecast
	fetchedAt time.Time
}

type cachedIcon struct {
	data        []byte
	contentType string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithGeocoders sets the geocoders tried in order by Locate and Reverse.
func WithGeocoders(g ...Geocoder) Option {
	return func(s *Service) { s.geocoders = append(s.geocoders, g...) }
}

// WithIconFetcher sets the downloader used by Icon.
func WithIconFetcher(f IconFetcher) Option {
	return func(s *Service) { s.icons = f }
}

// WithCurrentTTL controls how long a stored snapshot is served before Current refetches.
func WithCurrentTTL(d time.Duration) Option {
	return func(s *Service) { s.currentTTL = d }
}

// WithForecastTTL controls how long an aggregated forecast is cached.
func WithForecastTTL(d time.Duration) Option {
	return func(s *Service) { s.forecastTTL = d }
}

// NewService creates a new Service.
func NewService(store Store, providers []Provider, opts ...Option) *Service {
	s := &Service{
		store:       store,
		providers:   providers,
		logger:      zap.NewNop(),
		currentTTL:  10 * time.Minute,
		forecastTTL: 30 * time.Minute,
		now:         time.Now,
		lastFetch:   make(map[string]time.Time),
		forecasts:   make(map[string]cachedForecast),
		iconCache:   make(map[string]cachedIcon),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAndStore fetches data from all providers concurrently for the given location,
// aggregates successful readings, and stores a snapshot.
// When every provider fails the last good snapshot is kept and ErrNoData is returned.
func (s *Service) FetchAndStore(ctx context.Context, loc Location) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []ProviderReading
	)

	s.logger.Debug("fetching current weather",
		zap.String("location", loc.Key()),
		zap.Int("providers", len(s.providers)))
	if len(s.providers) == 0 {
		return fmt.Errorf("no weather providers configured")
	}

	for _, p := range s.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			r, err := p.Fetch(ctx, loc)
			if err != nil {
				// Log and continue; we want partial success when possible.
				s.logger.Warn("provider fetch failed",
					zap.String("provider", p.Name()),
					zap.String("location", loc.Key()),
					zap.Error(err))
				return
			}

			mu.Lock()
			readings = append(readings, r)
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(readings) == 0 {
		s.logger.Info("no successful provider readings; keeping last good snapshot",
			zap.String("location", loc.Key()))
		return fmt.Errorf("%s: %w", loc.Key(), ErrNoData)
	}

	// Provider completion order is random; keep aggregation stable.
	sort.Slice(readings, func(i, j int) bool { return readings[i].ProviderName < readings[j].ProviderName })

	snapshot := AggregateReadings(loc, readings)
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = s.now().UTC()
	}
	s.store.SaveSnapshot(loc, snapshot)

	s.mu.Lock()
	s.lastFetch[loc.Key()] = s.now()
	s.mu.Unlock()
	return nil
}

// Current returns the latest snapshot for loc, fetching a new one when the stored
// snapshot is missing or older than the configured TTL.
func (s *Service) Current(ctx context.Context, loc Location) (WeatherSnapshot, error) {
	s.mu.Lock()
	fetchedAt, ok := s.lastFetch[loc.Key()]
	s.mu.Unlock()

	if ok && (s.currentTTL <= 0 || s.now().Sub(fetchedAt) < s.currentTTL) {
		if snap, err := s.store.GetLatest(loc); err == nil {
			return snap, nil
		}
	}

	if err := s.FetchAndStore(ctx, loc); err != nil {
		// Serve a stale snapshot rather than nothing.
		if snap, serr := s.store.GetLatest(loc); serr == nil {
			return snap, nil
		}
		return WeatherSnapshot{}, err
	}
	return s.store.GetLatest(loc)
}

// GetForecast fetches multi-day forecasts from providers that support it,
// aggregates them per day, and returns a normalized Forecast.
func (s *Service) GetForecast(ctx context.Context, loc Location, days int) (Forecast, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be greater than zero")
	}

	cacheKey := loc.Key() + "/" + strconv.Itoa(days)
	s.mu.Lock()
	cached, ok := s.forecasts[cacheKey]
	s.mu.Unlock()
	if ok && s.now().Sub(cached.fetchedAt) < s.forecastTTL {
		return cached.forecast, nil
	}

	s.logger.Debug("fetching forecast", zap.String("location", loc.Key()), zap.Int("days", days))

	type dayKey string

	var (
		mu            sync.Mutex
		dayReadings   = make(map[dayKey][]ProviderReading)
		dayTimestamps = make(map[dayKey]time.Time)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.providers {
		fp, ok := p.(ForecastProvider)
		if !ok {
			continue
		}

		g.Go(func() error {
			readings, err := fp.FetchForecast(gctx, loc, days)
			if err != nil {
				// One provider failing must not cancel the others.
				s.logger.Warn("provider forecast failed",
					zap.String("provider", fp.Name()),
					zap.String("location", loc.Key()),
					zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			for _, r := range readings {
				ts := r.Timestamp.UTC()
				k := dayKey(ts.Format("2006-01-02"))

				dayReadings[k] = append(dayReadings[k], r)

				if _, exists := dayTimestamps[k]; !exists {
					dayTimestamps[k] = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(dayReadings) == 0 {
		s.logger.Info("no successful forecast readings", zap.String("location", loc.Key()))
		return nil, fmt.Errorf("forecast for %s: %w", loc.Key(), ErrNoData)
	}

	// Collect and sort all date keys.
	keys := make([]string, 0, len(dayReadings))
	for k := range dayReadings {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	forecast := make(Forecast, 0, days)

	for _, k := range keys {
		if len(forecast) >= days {
			break
		}

		dk := dayKey(k)
		readings := dayReadings[dk]
		sort.SliceStable(readings, func(i, j int) bool {
			return readings[i].ProviderName < readings[j].ProviderName
		})

		snapshot := AggregateReadings(loc, readings)
		if ts, ok := dayTimestamps[dk]; ok {
			snapshot.Timestamp = ts
		}

		forecast = append(forecast, snapshot)
	}

	s.mu.Lock()
	s.forecasts[cacheKey] = cachedForecast{forecast: forecast, fetchedAt: s.now()}
	s.mu.Unlock()

	return forecast, nil
}

// Locate resolves a city name through the configured geocoders, first match wins.
func (s *Service) Locate(ctx context.Context, name string) (Location, error) {
	var lastErr error
	for _, g := range s.geocoders {
		loc, err := g.Locate(ctx, name)
		if err == nil {
			return loc, nil
		}
		lastErr = err
		s.logger.Debug("geocoder lookup failed", zap.String("query", name), zap.Error(err))
	}
	return Location{}, geocodeErr(name, lastErr)
}

// Reverse resolves coordinates to a named location through the configured geocoders.
func (s *Service) Reverse(ctx context.Context, lat, lon float64) (Location, error) {
	var lastErr error
	for _, g := range s.geocoders {
		loc, err := g.Reverse(ctx, lat, lon)
		if err == nil && loc.City != "" {
			return loc, nil
		}
		lastErr = err
	}
	return Location{}, geocodeErr(fmt.Sprintf("%f,%f", lat, lon), lastErr)
}

func geocodeErr(query string, last error) error {
	if last == nil || errors.Is(last, ErrLocationNotFound) {
		return fmt.Errorf("%q: %w", query, ErrLocationNotFound)
	}
	return fmt.Errorf("%q: %w: %v", query, ErrLocationNotFound, last)
}

// Icon returns the condition icon behind url, downloading it once.
func (s *Service) Icon(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", ErrNoData
	}

	s.mu.Lock()
	c, ok := s.iconCache[url]
	s.mu.Unlock()
	if ok {
		return c.data, c.contentType, nil
	}

	if s.icons == nil {
		return nil, "", fmt.Errorf("icon fetcher not configured")
	}
	data, contentType, err := s.icons.FetchIcon(ctx, url)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.iconCache[url] = cachedIcon{data: data, contentType: contentType}
	s.mu.Unlock()
	return data, contentType, nil
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(loc Location) (WeatherSnapshot, error) {
	return s.store.GetLatest(loc)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(loc Location, from, to time.Time) ([]WeatherSnapshot, error) {
	return s.store.GetRange(loc, from, to)
}
