package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/weather"
)

// Job is a named task run every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs background jobs: weather refresh and session cleanup.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      []Job
	logger    *zap.Logger
}

// New creates a new Scheduler.
func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		jobs:      jobs,
		logger:    logger,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.logger.Info("no jobs configured; nothing to schedule")
		return nil
	}

	for _, job := range s.jobs {
		job := job
		if job.Interval <= 0 {
			s.logger.Info("job disabled", zap.String("job", job.Name))
			continue
		}
		timeout := job.Timeout
		if timeout <= 0 {
			timeout = job.Interval
		}

		_, err := s.scheduler.Every(job.Interval).Tag(job.Name).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			start := time.Now()
			if err := job.Run(ctx); err != nil {
				s.logger.Warn("job failed", zap.String("job", job.Name), zap.Error(err))
				return
			}
			s.logger.Debug("job completed", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name, err)
		}
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// LocationSource lists the locations to keep fresh.
type LocationSource interface {
	TrackedLocations(ctx context.Context) ([]weather.Location, error)
}

// Fetcher refreshes the stored weather of one location.
type Fetcher interface {
	FetchAndStore(ctx context.Context, loc weather.Location) error
}

// Pruner drops stored history of locations no longer tracked.
type Pruner interface {
	Prune(keep []weather.Location) int
}

// RefreshJob fetches current weather for every tracked location in parallel and then
// forgets locations nobody tracks anymore. pruner may be nil.
func RefreshJob(interval time.Duration, src LocationSource, fetcher Fetcher, pruner Pruner, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     "weather-refresh",
		Interval: interval,
		Timeout:  2 * time.Minute,
		Run: func(ctx context.Context) error {
			locations, err := src.TrackedLocations(ctx)
			if err != nil {
				return fmt.Errorf("list tracked locations: %w", err)
			}

			var wg sync.WaitGroup
			for _, loc := range locations {
				loc := loc
				wg.Add(1)
				go func() {
					defer wg.Done()

					fctx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()

					if err := fetcher.FetchAndStore(fctx, loc); err != nil {
						logger.Warn("fetch failed", zap.String("location", loc.Key()), zap.Error(err))
					}
				}()
			}
			wg.Wait()

			if pruner != nil {
				if n := pruner.Prune(locations); n > 0 {
					logger.Info("pruned untracked locations", zap.Int("count", n))
				}
			}
			logger.Debug("refreshed tracked locations", zap.Int("count", len(locations)))
			return nil
		},
	}
}

// SessionSweeper removes expired sessions.
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SessionSweepJob periodically removes expired sessions, which signs out their users.
func SessionSweepJob(interval time.Duration, sweeper SessionSweeper, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     "session-sweep",
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			n, err := sweeper.SweepExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("expired sessions removed", zap.Int("count", n))
			}
			return nil
		},
	}
}
