// Package main is the entry point of the review agent worker.
//
// The worker:
//   - provisions the default intervention threshold on start
//   - runs the nightly five-week review on the scheduler
//   - serves the admin and teacher intervention API
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Timmutegi/ae-tuition-backend/config"
	"github.com/Timmutegi/ae-tuition-backend/internal/app"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/scheduler"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/Timmutegi/ae-tuition-backend/internal/interface/http"
	"github.com/Timmutegi/ae-tuition-backend/internal/interface/http/handlers"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting review agent worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"scheduler_timezone", cfg.Scheduler.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. COMPONENTS
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Database.AutoMigrate {
		n, err := a.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("database schema is up to date", "applied", n)
	}

	if cfg.Intervention.EnsureDefaultOnStart {
		res, err := a.EnsureDefaultThreshold(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to ensure default threshold: %w", err)
		}
		log.Info("default threshold ready",
			"threshold_id", res.Threshold.ID,
			"created", res.Created,
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := setupScheduler(cfg, a, log)
	if err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stop failed", "error", err)
			}
		}()
	} else {
		log.Warn("scheduler disabled, checks run only on demand")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpserver.NewServer(serverConfig(cfg), httpserver.Dependencies{
		CreateThreshold: a.CreateThreshold,
		UpdateThreshold: a.UpdateThreshold,
		DeleteThreshold: a.DeleteThreshold,
		ApproveAlert:    a.ApproveAlert,
		DismissAlert:    a.DismissAlert,
		ResolveAlert:    a.ResolveAlert,
		RunCheck:        a.RunCheck,
		ListThresholds:  a.ListThresholds,
		GetThreshold:    a.GetThreshold,
		ListAlerts:      a.ListAlerts,
		GetAlert:        a.GetAlert,
		GetAlertStats:   a.GetAlertStats,
		GetAcademicWeek: a.GetAcademicWeek,
		ListFlagged:     a.ListFlagged,
		ListAudit:       a.ListAudit,
		Auth: httpserver.NewAuthenticator(httpserver.AuthConfig{
			JWTSecret:        cfg.Auth.JWTSecret,
			Issuer:           cfg.Auth.JWTIssuer,
			ServiceKeyHashes: cfg.Auth.ServiceKeyHashes,
		}),
		HealthChecker:  healthChecker(cfg, a, sched),
		Metrics:        a.Metrics,
		MetricsHandler: metricsHandler(cfg, a),
		Logger:         setupHTTPLogger(cfg),
	})
	serverErr := server.StartAsync()

	log.Info("review agent worker is running", "addr", cfg.HTTP.Addr)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", "error", err)
			return err
		}
	}

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("http server shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupScheduler registers the intervention check. Its metrics hook counts
// every run, scheduled or manual.
func setupScheduler(cfg *config.Config, a *app.App, log *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.SchedulerLocation(),
	})

	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.CheckSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.check_schedule: %w", err)
	}

	job := jobs.NewInterventionCheckJob(a.RunCheck, log, jobs.InterventionCheckConfig{
		Timeout: cfg.Scheduler.CheckTimeout,
	})
	if err := sched.Register(job, schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}

	sched.OnJobComplete(func(r scheduler.JobResult) {
		a.Metrics.JobFinished(r.JobName, r.Success)
	})
	return sched, nil
}

// healthChecker treats the database as critical. Redis and the scheduler
// only degrade the service.
func healthChecker(cfg *config.Config, a *app.App, sched *scheduler.Scheduler) *handlers.CompositeHealthChecker {
	hc := handlers.NewCompositeHealthChecker(cfg.App.Version)
	hc.AddCheck("postgres", handlers.NewPingCheck(a.DB))
	if a.Cache != nil {
		hc.AddOptionalCheck("redis", handlers.NewPingCheck(a.Cache))
	}
	if cfg.Scheduler.Enabled {
		hc.AddOptionalCheck("scheduler", func(context.Context) error {
			if !sched.IsRunning() {
				return errors.New("scheduler is not running")
			}
			return nil
		})
	}
	return hc
}

func metricsHandler(cfg *config.Config, a *app.App) http.Handler {
	if !cfg.Observability.MetricsEnabled {
		return nil
	}
	return a.Metrics.Handler()
}

// serverConfig lets a manual check run as long as a scheduled one.
func serverConfig(cfg *config.Config) httpserver.Config {
	sc := httpserver.DefaultConfig()
	sc.Addr = cfg.HTTP.Addr
	sc.ReadTimeout = cfg.HTTP.ReadTimeout
	sc.IdleTimeout = cfg.HTTP.IdleTimeout
	sc.Version = cfg.App.Version
	sc.RequestTimeout = cfg.Scheduler.CheckTimeout
	sc.WriteTimeout = cfg.HTTP.WriteTimeout
	if sc.WriteTimeout < sc.RequestTimeout+time.Minute {
		sc.WriteTimeout = sc.RequestTimeout + time.Minute
	}
	if cfg.IsDevelopment() {
		sc.RateLimitPerMinute = 0
	}
	return sc
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures slog for the application and infrastructure layers.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Observability.LogLevel)}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("service", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

// setupHTTPLogger configures the request logger of the API layer.
func setupHTTPLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
	}).With(logger.Component("http"))
}

func slogLevel(s string) slog.Level {
	switch logger.ParseLevel(s) {
	case logger.LevelDebug:
		return slog.LevelDebug
	case logger.LevelWarn:
		return slog.LevelWarn
	case logger.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
