package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weatherapp/internal/notify"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/weather"
)

type fakeForecaster struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (f *fakeForecaster) GetForecast(_ context.Context, loc weather.Location, days int) (weather.Forecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[loc.City]++
	if f.err != nil {
		return nil, f.err
	}
	fc := make(weather.Forecast, days)
	for i := range fc {
		fc[i] = weather.WeatherSnapshot{
			Location:  loc,
			Timestamp: time.Date(2024, 6, 1+i, 12, 0, 0, 0, time.UTC),
			TempMin:   18,
			TempMax:   29,
			Condition: weather.ConditionRain,
		}
	}
	return fc, nil
}

type chanNotifier struct {
	ch chan notify.Notification
}

func (n *chanNotifier) Notify(x notify.Notification) { n.ch <- x }

func newTestMonitor(t *testing.T, f Forecaster) (*ForecastMonitor, *chanNotifier) {
	t.Helper()
	n := &chanNotifier{ch: make(chan notify.Notification, 16)}
	m := New(f, n, time.Hour, 3, zaptest.NewLogger(t))
	t.Cleanup(m.Stop)
	return m, n
}

func waitNotification(t *testing.T, n *chanNotifier) notify.Notification {
	t.Helper()
	select {
	case got := <-n.ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
		return notify.Notification{}
	}
}

func recife(monitored bool) repo.City {
	return repo.City{Name: "Recife", Country: "BR", Lat: -8.05, Lon: -34.9, Monitored: monitored}
}

func TestUpdateCity_SchedulesAndChecksImmediately(t *testing.T) {
	m, n := newTestMonitor(t, &fakeForecaster{})

	require.NoError(t, m.UpdateCity("u1", recife(true)))
	assert.Equal(t, []string{"recife"}, m.Scheduled("u1"))

	got := waitNotification(t, n)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "New forecast for Recife", got.Title)
	assert.Equal(t, "rain, min 18°C, max 29°C", got.Body)
	fc, ok := got.Data.(weather.Forecast)
	require.True(t, ok)
	assert.Len(t, fc, 3)
}

func TestUpdateCity_ReplacesExistingJob(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeForecaster{})

	require.NoError(t, m.UpdateCity("u1", recife(true)))
	require.NoError(t, m.UpdateCity("u1", repo.City{Name: "RECIFE", Monitored: true}))
	assert.Equal(t, 1, m.JobCount())
	assert.Len(t, m.scheduler.Jobs(), 1)
}

func TestUpdateCity_UnmonitoredRemovesJob(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeForecaster{})

	require.NoError(t, m.UpdateCity("u1", recife(false)))
	assert.Empty(t, m.Scheduled("u1"))

	require.NoError(t, m.UpdateCity("u1", recife(true)))
	require.NoError(t, m.UpdateCity("u1", recife(false)))
	assert.Empty(t, m.Scheduled("u1"))
	assert.Zero(t, m.JobCount())
}

func TestCancelCity(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeForecaster{})

	require.NoError(t, m.UpdateCity("u1", recife(true)))
	require.NoError(t, m.UpdateCity("u1", repo.City{Name: "Olinda", Monitored: true}))

	m.CancelCity("u1", repo.City{Name: "recife"})
	assert.Equal(t, []string{"olinda"}, m.Scheduled("u1"))

	// Unknown city and unknown user are no-ops.
	m.CancelCity("u1", repo.City{Name: "Paris"})
	m.CancelCity("ghost", recife(true))
	assert.Equal(t, 1, m.JobCount())
}

func TestCancelAll_OnlyAffectsOneUser(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeForecaster{})

	require.NoError(t, m.UpdateCity("u1", recife(true)))
	require.NoError(t, m.UpdateCity("u1", repo.City{Name: "Olinda", Monitored: true}))
	require.NoError(t, m.UpdateCity("u2", recife(true)))

	m.CancelAll("u1")
	assert.Empty(t, m.Scheduled("u1"))
	assert.Equal(t, []string{"recife"}, m.Scheduled("u2"))
	assert.Len(t, m.scheduler.Jobs(), 1)

	m.CancelAll("u1")
}

func TestStop_RejectsNewJobs(t *testing.T) {
	m, _ := newTestMonitor(t, &fakeForecaster{})
	require.NoError(t, m.UpdateCity("u1", recife(true)))

	m.Stop()
	assert.Zero(t, m.JobCount())
	assert.ErrorIs(t, m.UpdateCity("u1", recife(true)), ErrStopped)

	// Stopping twice is safe.
	m.Stop()
}

func TestCheck_Errors(t *testing.T) {
	boom := errors.New("boom")
	m, n := newTestMonitor(t, &fakeForecaster{err: boom})

	_, err := m.Check(context.Background(), "u1", recife(true))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, n.ch)
}

func TestBuildNotification_PrefersDescription(t *testing.T) {
	fc := weather.Forecast{{TempMin: 1.4, TempMax: 7.6, Condition: weather.ConditionSnow, Description: "Light snow"}}
	got := BuildNotification("u1", "Oslo", fc)
	assert.Equal(t, "Light snow, min 1°C, max 8°C", got.Body)
	assert.Equal(t, "Oslo", got.City)
}
