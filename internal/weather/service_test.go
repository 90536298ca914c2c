package weather_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/i474232898/weatherapp/internal/store"
	"github.com/i474232898/weatherapp/internal/weather"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubProvider struct {
	name     string
	reading  weather.ProviderReading
	forecast []weather.ProviderReading
	err      error
	calls    atomic.Int32
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(_ context.Context, _ weather.Location) (weather.ProviderReading, error) {
	p.calls.Add(1)
	if p.err != nil {
		return weather.ProviderReading{}, p.err
	}
	r := p.reading
	r.ProviderName = p.name
	return r, nil
}

func (p *stubProvider) FetchForecast(_ context.Context, _ weather.Location, days int) ([]weather.ProviderReading, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.forecast, nil
}

type stubGeocoder struct {
	loc weather.Location
	err error
}

func (g stubGeocoder) Locate(context.Context, string) (weather.Location, error) { return g.loc, g.err }

func (g stubGeocoder) Reverse(context.Context, float64, float64) (weather.Location, error) {
	return g.loc, g.err
}

type stubIcons struct{ calls atomic.Int32 }

func (f *stubIcons) FetchIcon(context.Context, string) ([]byte, string, error) {
	f.calls.Add(1)
	return []byte{0x89, 'P', 'N', 'G'}, "image/png", nil
}

func TestFetchAndStore_PartialSuccess(t *testing.T) {
	mem := store.NewMemoryStore(10, 0)
	ok := &stubProvider{name: "a", reading: weather.ProviderReading{TemperatureC: 20, Condition: weather.ConditionClear, Timestamp: time.Now().UTC()}}
	bad := &stubProvider{name: "b", err: errors.New("boom")}
	svc := weather.NewService(mem, []weather.Provider{ok, bad})

	loc := weather.Location{City: "Recife", Country: "BR"}
	require.NoError(t, svc.FetchAndStore(context.Background(), loc))

	snap, err := svc.GetLatest(loc)
	require.NoError(t, err)
	assert.Equal(t, 20.0, snap.Temperature)
	assert.Len(t, snap.Providers, 1)
}

func TestFetchAndStore_AllFailKeepsLastGood(t *testing.T) {
	mem := store.NewMemoryStore(10, 0)
	p := &stubProvider{name: "a", reading: weather.ProviderReading{TemperatureC: 11, Timestamp: time.Now().UTC()}}
	svc := weather.NewService(mem, []weather.Provider{p})
	loc := weather.Location{City: "Oslo"}

	require.NoError(t, svc.FetchAndStore(context.Background(), loc))

	p.err = errors.New("down")
	err := svc.FetchAndStore(context.Background(), loc)
	require.ErrorIs(t, err, weather.ErrNoData)

	snap, err := svc.GetLatest(loc)
	require.NoError(t, err)
	assert.Equal(t, 11.0, snap.Temperature)
}

func TestCurrent_UsesFreshSnapshot(t *testing.T) {
	mem := store.NewMemoryStore(10, 0)
	p := &stubProvider{name: "a", reading: weather.ProviderReading{TemperatureC: 5, Timestamp: time.Now().UTC()}}
	svc := weather.NewService(mem, []weather.Provider{p}, weather.WithCurrentTTL(time.Hour))
	loc := weather.Location{City: "Lima"}

	_, err := svc.Current(context.Background(), loc)
	require.NoError(t, err)
	_, err = svc.Current(context.Background(), loc)
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.calls.Load(), "second call must be served from the store")
}

func TestCurrent_ServesStaleOnFailure(t *testing.T) {
	mem := store.NewMemoryStore(10, 0)
	p := &stubProvider{name: "a", reading: weather.ProviderReading{TemperatureC: 7, Timestamp: time.Now().UTC()}}
	svc := weather.NewService(mem, []weather.Provider{p}, weather.WithCurrentTTL(time.Nanosecond))
	loc := weather.Location{City: "Quito"}

	_, err := svc.Current(context.Background(), loc)
	require.NoError(t, err)

	p.err = errors.New("down")
	time.Sleep(time.Millisecond)
	snap, err := svc.Current(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, 7.0, snap.Temperature)
}

func TestCurrent_NoDataAnywhere(t *testing.T) {
	svc := weather.NewService(store.NewMemoryStore(10, 0), []weather.Provider{&stubProvider{name: "a", err: errors.New("x")}})
	_, err := svc.Current(context.Background(), weather.Location{City: "Nowhere"})
	assert.ErrorIs(t, err, weather.ErrNoData)
}

func TestGetForecast_AggregatesPerDay(t *testing.T) {
	day1 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	a := &stubProvider{name: "a", forecast: []weather.ProviderReading{
		{ProviderName: "a", Timestamp: day1, TemperatureC: 20, TempMinC: 15, TempMaxC: 25, HasRange: true, Condition: weather.ConditionRain},
		{ProviderName: "a", Timestamp: day2, TemperatureC: 22, TempMinC: 18, TempMaxC: 26, HasRange: true, Condition: weather.ConditionClear},
	}}
	b := &stubProvider{name: "b", forecast: []weather.ProviderReading{
		{ProviderName: "b", Timestamp: day1.Add(3 * time.Hour), TemperatureC: 24, TempMinC: 14, TempMaxC: 27, HasRange: true, Condition: weather.ConditionRain},
	}}
	plain := &currentOnly{}

	svc := weather.NewService(store.NewMemoryStore(10, 0), []weather.Provider{a, b, plain})
	fc, err := svc.GetForecast(context.Background(), weather.Location{City: "Natal"}, 5)
	require.NoError(t, err)
	require.Len(t, fc, 2)

	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), fc[0].Timestamp)
	assert.Equal(t, 22.0, fc[0].Temperature)
	assert.Equal(t, 14.0, fc[0].TempMin)
	assert.Equal(t, 27.0, fc[0].TempMax)
	assert.Equal(t, weather.ConditionRain, fc[0].Condition)
	assert.Equal(t, weather.ConditionClear, fc[1].Condition)
}

func TestGetForecast_TruncatesAndCaches(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var readings []weather.ProviderReading
	for i := 0; i < 5; i++ {
		readings = append(readings, weather.ProviderReading{ProviderName: "a", Timestamp: base.AddDate(0, 0, i), TemperatureC: float64(i)})
	}
	a := &stubProvider{name: "a", forecast: readings}
	svc := weather.NewService(store.NewMemoryStore(10, 0), []weather.Provider{a}, weather.WithForecastTTL(time.Hour))

	fc, err := svc.GetForecast(context.Background(), weather.Location{City: "Natal"}, 3)
	require.NoError(t, err)
	assert.Len(t, fc, 3)

	_, err = svc.GetForecast(context.Background(), weather.Location{City: "Natal"}, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestGetForecast_Errors(t *testing.T) {
	svc := weather.NewService(store.NewMemoryStore(10, 0), nil)

	_, err := svc.GetForecast(context.Background(), weather.Location{City: "X"}, 0)
	assert.Error(t, err)

	_, err = svc.GetForecast(context.Background(), weather.Location{City: "X"}, 3)
	assert.ErrorIs(t, err, weather.ErrNoData)
}

func TestLocate_FallsThroughGeocoders(t *testing.T) {
	want := weather.NewLocation("Recife", "Brazil", -8.05, -34.9)
	svc := weather.NewService(store.NewMemoryStore(1, 0), nil, weather.WithGeocoders(
		stubGeocoder{err: errors.New("quota")},
		stubGeocoder{loc: want},
	))

	got, err := svc.Locate(context.Background(), "Recife")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = svc.Reverse(context.Background(), -8.05, -34.9)
	require.NoError(t, err)
	assert.Equal(t, "Recife", got.City)
}

func TestLocate_NotFound(t *testing.T) {
	svc := weather.NewService(store.NewMemoryStore(1, 0), nil, weather.WithGeocoders(stubGeocoder{err: weather.ErrLocationNotFound}))
	_, err := svc.Locate(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, weather.ErrLocationNotFound)

	svc = weather.NewService(store.NewMemoryStore(1, 0), nil)
	_, err = svc.Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, weather.ErrLocationNotFound)
}

func TestIcon_Cached(t *testing.T) {
	icons := &stubIcons{}
	svc := weather.NewService(store.NewMemoryStore(1, 0), nil, weather.WithIconFetcher(icons))

	data, ct, err := svc.Icon(context.Background(), "https://cdn.example/icon.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.NotEmpty(t, data)

	_, _, err = svc.Icon(context.Background(), "https://cdn.example/icon.png")
	require.NoError(t, err)
	assert.Equal(t, int32(1), icons.calls.Load())

	_, _, err = svc.Icon(context.Background(), "")
	assert.ErrorIs(t, err, weather.ErrNoData)
}

type currentOnly struct{}

func (currentOnly) Name() string { return "current-only" }

func (currentOnly) Fetch(context.Context, weather.Location) (weather.ProviderReading, error) {
	return weather.ProviderReading{}, nil
}
