package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weatherapp/internal/api/http"
	"github.com/i474232898/weatherapp/internal/app"
	"github.com/i474232898/weatherapp/internal/auth"
	"github.com/i474232898/weatherapp/internal/config"
	"github.com/i474232898/weatherapp/internal/logging"
	"github.com/i474232898/weatherapp/internal/monitor"
	"github.com/i474232898/weatherapp/internal/notify"
	"github.com/i474232898/weatherapp/internal/repo"
	"github.com/i474232898/weatherapp/internal/scheduler"
)

var (
	// Global flags
	configPath string
	verbose    bool
	port       string

	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "weatherapp",
	Short: "Weather backend with favorite cities and scheduled forecast checks",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if port != "" {
			cfg.Port = port
		}

		logger, err = logging.New(cfg.LogLevel, cfg.LogFormat, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the forecast monitor and the background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the storage schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		logger.Info("storage ready", zap.String("driver", cfg.StorageDriver))
		return backend.Close()
	},
}

var forecastDays int

var forecastCmd = &cobra.Command{
	Use:   "forecast <city>",
	Short: "Print the aggregated forecast of a city as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if forecastDays < 1 || forecastDays > 7 {
			return fmt.Errorf("--days must be between 1 and 7")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		svc, _ := buildWeatherService(cfg, logger)
		loc, err := svc.Locate(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fc, err := svc.GetForecast(ctx, loc, forecastDays)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"location": loc,
			"forecast": fc,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port (overrides PORT)")
	forecastCmd.Flags().IntVarP(&forecastDays, "days", "d", 3, "Number of days (1-7)")

	rootCmd.AddCommand(serveCmd, migrateCmd, forecastCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	repository := repo.New(backend, logger.Named("repo"))
	defer func() {
		if err := repository.Close(); err != nil {
			logger.Warn("error closing storage", zap.Error(err))
		}
	}()

	svc, memStore := buildWeatherService(cfg, logger)

	hub := notify.NewHub(cfg.NotifyHistory, logger.Named("notify"))
	mon := monitor.New(svc, hub, cfg.MonitorInterval, cfg.MonitorForecastDays, logger.Named("monitor"))
	defer mon.Stop()

	ctrl := app.New(repository, svc, mon, hub, logger.Named("app"))
	if _, err := ctrl.Restore(ctx); err != nil {
		return err
	}

	authSvc := auth.NewService(repository, cfg.SessionTTL, logger.Named("auth"))

	// Background jobs: weather refresh and session cleanup.
	sched := scheduler.New(logger.Named("scheduler"),
		scheduler.RefreshJob(cfg.FetchInterval, ctrl, svc, memStore, logger.Named("refresh")),
		scheduler.SessionSweepJob(cfg.SessionSweepInterval, authSvc, logger.Named("sessions")),
	)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	done := make(chan struct{})
	fapp := httpapi.NewApp("weatherapp", logger.Named("http"), true)
	httpapi.RegisterRoutes(fapp, httpapi.Deps{
		Weather:             svc,
		Auth:                authSvc,
		Cities:              ctrl,
		Events:              hub,
		Done:                done,
		DefaultForecastDays: cfg.MonitorForecastDays,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("port", cfg.Port))
		errCh <- fapp.Listen(":" + cfg.Port)
	}()

	// Wait for termination signal
	select {
	case <-ctx.Done():
	case err := <-errCh:
		close(done)
		return fmt.Errorf("fiber server stopped: %w", err)
	}

	logger.Info("shutting down")
	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := fapp.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}
	return nil
}
