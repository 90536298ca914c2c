// Package monitor periodically re-checks the forecast of every monitored favorite city
// and hands the result to a notifier.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/common"
	"github.com/i474232898/weatherapp/internal/notify"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/weather"
)

// ErrStopped is returned when scheduling on a stopped monitor.
var ErrStopped = errors.New("forecast monitor stopped")

// Forecaster returns a multi-day forecast for a location.
type Forecaster interface {
	GetForecast(ctx context.Context, loc weather.Location, days int) (weather.Forecast, error)
}

// Notifier receives the outcome of a forecast check.
type Notifier interface {
	Notify(n notify.Notification)
}

const defaultCheckTimeout = 30 * time.Second

// ForecastMonitor owns one periodic job per monitored (user, city) pair.
type ForecastMonitor struct {
	scheduler  *gocron.Scheduler
	forecaster Forecaster
	notifier   Notifier
	interval   time.Duration
	days       int
	timeout    time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]map[string]*gocron.Job // user id -> city key -> job
	stopped bool
}

// New creates a monitor and starts its scheduler. Each check asks for a forecast of days days.
func New(forecaster Forecaster, notifier Notifier, interval time.Duration, days int, logger *zap.Logger) *ForecastMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if days <= 0 {
		days = 1
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.StartAsync()

	ctx, cancel := context.WithCancel(context.Background())
	return &ForecastMonitor{
		scheduler:  s,
		forecaster: forecaster,
		notifier:   notifier,
		interval:   interval,
		days:       days,
		timeout:    defaultCheckTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]map[string]*gocron.Job),
	}
}

func cityKey(name string) string {
	return strings.ToLower(common.NormalizeName(name))
}

// UpdateCity replaces the periodic check of a city. Nothing is scheduled when the city
// is not monitored. The first check runs right away.
func (m *ForecastMonitor) UpdateCity(userID string, city repo.City) error {
	key := cityKey(city.Name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrStopped
	}
	m.removeLocked(userID, key)
	if !city.Monitored {
		return nil
	}

	job, err := m.scheduler.Every(m.interval).
		Tag("user:"+userID, "city:"+userID+"/"+key).
		Do(func() { m.run(userID, city) })
	if err != nil {
		return fmt.Errorf("schedule forecast check for %s: %w", city.Name, err)
	}

	userJobs, ok := m.jobs[userID]
	if !ok {
		userJobs = make(map[string]*gocron.Job)
		m.jobs[userID] = userJobs
	}
	userJobs[key] = job

	m.logger.Info("forecast check scheduled",
		zap.String("user", userID),
		zap.String("city", city.Name),
		zap.Duration("interval", m.interval))
	return nil
}

// CancelCity stops the periodic check of one city. Unknown cities are ignored.
func (m *ForecastMonitor) CancelCity(userID string, city repo.City) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removeLocked(userID, cityKey(city.Name)) {
		m.logger.Info("forecast check cancelled", zap.String("user", userID), zap.String("city", city.Name))
	}
}

// CancelAll stops every periodic check of a user.
func (m *ForecastMonitor) CancelAll(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.jobs[userID])
	for key := range m.jobs[userID] {
		m.removeLocked(userID, key)
	}
	if n > 0 {
		m.logger.Info("forecast checks cancelled", zap.String("user", userID), zap.Int("count", n))
	}
}

// Stop cancels every check of every user, aborts running checks and stops the scheduler.
func (m *ForecastMonitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for userID, userJobs := range m.jobs {
		for key := range userJobs {
			m.removeLocked(userID, key)
		}
	}
	m.mu.Unlock()

	m.cancel()
	m.scheduler.Stop()
}

// Scheduled lists the normalized names of the cities of a user that have a job, sorted.
func (m *ForecastMonitor) Scheduled(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs[userID]))
	for key := range m.jobs[userID] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// JobCount returns the total number of scheduled checks.
func (m *ForecastMonitor) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, userJobs := range m.jobs {
		n += len(userJobs)
	}
	return n
}

func (m *ForecastMonitor) removeLocked(userID, key string) bool {
	userJobs := m.jobs[userID]
	job, ok := userJobs[key]
	if !ok {
		return false
	}
	m.scheduler.RemoveByReference(job)
	delete(userJobs, key)
	if len(userJobs) == 0 {
		delete(m.jobs, userID)
	}
	return true
}

func (m *ForecastMonitor) run(userID string, city repo.City) {
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	defer cancel()

	if _, err := m.Check(ctx, userID, city); err != nil {
		m.logger.Warn("forecast check failed",
			zap.String("user", userID),
			zap.String("city", city.Name),
			zap.Error(err))
	}
}

// Check fetches the forecast of a city once and notifies the user about it.
func (m *ForecastMonitor) Check(ctx context.Context, userID string, city repo.City) (notify.Notification, error) {
	fc, err := m.forecaster.GetForecast(ctx, city.Location(), m.days)
	if err != nil {
		return notify.Notification{}, fmt.Errorf("forecast for %s: %w", city.Name, err)
	}
	if len(fc) == 0 {
		return notify.Notification{}, fmt.Errorf("forecast for %s: %w", city.Name, weather.ErrNoData)
	}

	n := BuildNotification(userID, city.Name, fc)
	m.notifier.Notify(n)
	m.logger.Debug("forecast check done", zap.String("user", userID), zap.String("city", city.Name))
	return n, nil
}

// BuildNotification summarizes the first day of fc.
func BuildNotification(userID, cityName string, fc weather.Forecast) notify.Notification {
	first := fc[0]
	desc := first.Description
	if desc == "" {
		desc = string(first.Condition)
	}
	return notify.Notification{
		UserID: userID,
		City:   cityName,
		Title:  "New forecast for " + cityName,
		Body:   fmt.Sprintf("%s, min %.0f°C, max %.0f°C", desc, first.TempMin, first.TempMax),
		Data:   fc,
	}
}
