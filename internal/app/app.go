// Package app assembles the review agent from configuration. Both binaries
// build on it: the worker serves HTTP and runs the scheduler, reviewctl uses
// the same handlers from the command line.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Timmutegi/ae-tuition-backend/config"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/eventhandler"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/calendar"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/external/notify"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/messaging"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/metrics"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/persistence/postgres"
	"github.com/Timmutegi/ae-tuition-backend/internal/infrastructure/persistence/redis"
)

// RunLockResource names the distributed lock held during a full sweep.
const RunLockResource = "intervention_check"

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// App holds every wired component. Fields are read-only after New.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Calendar calendar.Calendar

	// Infrastructure
	DB         *postgres.Connection
	Cache      *redis.Cache // nil when Redis is disabled or unreachable
	Bus        *messaging.InMemoryEventBus
	Metrics    *metrics.Recorder
	Dispatcher intervention.NotificationDispatcher

	// Repositories
	Thresholds   *postgres.ThresholdRepository
	Alerts       *postgres.AlertRepository
	Performances *postgres.PerformanceReader
	Roster       *postgres.Roster
	Access       *intervention.AccessPolicy

	// Commands
	CreateThreshold *command.CreateThresholdHandler
	UpdateThreshold *command.UpdateThresholdHandler
	DeleteThreshold *command.DeleteThresholdHandler
	EnsureDefault   *command.EnsureDefaultThresholdHandler
	ApproveAlert    *command.ApproveAlertHandler
	DismissAlert    *command.DismissAlertHandler
	ResolveAlert    *command.ResolveAlertHandler
	RunCheck        *command.RunInterventionCheckHandler

	// Queries
	ListThresholds  *query.ListThresholdsHandler
	GetThreshold    *query.GetThresholdHandler
	ListAlerts      *query.ListAlertsHandler
	GetAlert        *query.GetAlertHandler
	GetAlertStats   *query.GetAlertStatsHandler
	GetAcademicWeek *query.GetAcademicWeekHandler
	ListFlagged     *query.ListFlaggedStudentsHandler
	ListAudit       *query.ListAuditHandler

	closers []func()
}

// New connects to the stores and wires every handler. Redis is optional: a
// failed connection is logged and the run lock and stats cache are left out.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	cal, err := cfg.Calendar.Build()
	if err != nil {
		return nil, fmt.Errorf("app: calendar: %w", err)
	}

	a := &App{Config: cfg, Logger: log, Calendar: cal}

	// ─────────────────────────────────────────────────────────────────────────
	// PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	db, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolSettings{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}
	a.DB = db
	a.onClose(func() {
		log.Info("closing database connection")
		db.Close()
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(redis.Config{
			URL:          cfg.Redis.URL,
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis unavailable, running without run lock and stats cache", "error", err)
		} else {
			a.Cache = cache
			a.onClose(func() { _ = cache.Close() })
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus, metrics, notifications
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	a.Bus = messaging.NewInMemoryEventBus(busConfig)
	a.onClose(func() { _ = a.Bus.Close() })

	a.Metrics = metrics.NewRecorder()
	a.Dispatcher = notify.New(notify.ClientConfig{
		Endpoint: cfg.Notification.Endpoint,
		APIKey:   cfg.Notification.APIKey,
		Timeout:  cfg.Notification.Timeout,
		Logger:   log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Repositories
	// ─────────────────────────────────────────────────────────────────────────
	a.Thresholds = postgres.NewThresholdRepository(db)
	a.Alerts = postgres.NewAlertRepository(db)
	a.Performances = postgres.NewPerformanceReader(db)
	a.Roster = postgres.NewRoster(db)
	a.Access = intervention.NewAccessPolicy(a.Roster)

	a.wireHandlers()

	if err := eventhandler.Subscribe(a.Bus,
		eventhandler.NewOnAlertCreatedHandler(a.Dispatcher, a.Alerts, a.Bus, log, eventhandler.DefaultOnAlertCreatedConfig()),
		eventhandler.NewMetricsHandler(a.Metrics),
	); err != nil {
		a.Close()
		return nil, fmt.Errorf("app: subscribe event handlers: %w", err)
	}

	return a, nil
}

// wireHandlers builds the command and query handlers. Optional Redis-backed
// collaborators are only assigned when present so interfaces never hold a
// nil pointer.
func (a *App) wireHandlers() {
	cfg, log := a.Config, a.Logger

	var (
		statsCache query.StatsCache
		invalidate command.StatsInvalidator
		runLock    command.RunLock
	)
	if a.Cache != nil {
		sc := redis.NewStatsCache(a.Cache)
		statsCache, invalidate = sc, sc
		runLock = redis.NewRunLock(a.Cache, RunLockResource)
	}

	a.CreateThreshold = command.NewCreateThresholdHandler(a.Thresholds, log)
	a.UpdateThreshold = command.NewUpdateThresholdHandler(a.Thresholds, log)
	a.DeleteThreshold = command.NewDeleteThresholdHandler(a.Thresholds, log)
	a.EnsureDefault = command.NewEnsureDefaultThresholdHandler(a.Thresholds, a.Roster, log)

	lifecycle := command.LifecycleDeps{
		Alerts:     a.Alerts,
		Thresholds: a.Thresholds,
		Access:     a.Access,
		Dispatcher: a.Dispatcher,
		Publisher:  a.Bus,
		Stats:      invalidate,
		Logger:     log,
	}
	a.ApproveAlert = command.NewApproveAlertHandler(lifecycle)
	a.DismissAlert = command.NewDismissAlertHandler(lifecycle)
	a.ResolveAlert = command.NewResolveAlertHandler(lifecycle)

	a.RunCheck = command.NewRunInterventionCheckHandler(command.RunInterventionCheckDeps{
		Thresholds:   a.Thresholds,
		Alerts:       a.Alerts,
		Performances: a.Performances,
		Roster:       a.Roster,
		Calendar:     a.Calendar,
		Publisher:    a.Bus,
		Lock:         runLock,
		Stats:        invalidate,
		Logger:       log,
	}, command.RunInterventionCheckConfig{
		Concurrency: cfg.Intervention.Concurrency,
		LockTTL:     cfg.Intervention.LockTTL,
	})

	a.ListThresholds = query.NewListThresholdsHandler(a.Thresholds)
	a.GetThreshold = query.NewGetThresholdHandler(a.Thresholds)
	a.ListAlerts = query.NewListAlertsHandler(a.Alerts, a.Access)
	a.GetAlert = query.NewGetAlertHandler(a.Alerts, a.Access)
	a.GetAlertStats = query.NewGetAlertStatsHandler(a.Alerts, a.Access, statsCache, cfg.Intervention.StatsCacheTTL, log)
	a.GetAcademicWeek = query.NewGetAcademicWeekHandler(a.Calendar)
	a.ListFlagged = query.NewListFlaggedStudentsHandler(a.Alerts, a.Access)
	a.ListAudit = query.NewListAuditHandler(a.Alerts)
}

// ══════════════════════════════════════════════════════════════════════════════
// STARTUP TASKS
// ══════════════════════════════════════════════════════════════════════════════

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) (int, error) {
	n, err := postgres.NewMigrator(a.DB).Migrate(ctx)
	if err != nil {
		return n, fmt.Errorf("app: migrate: %w", err)
	}
	return n, nil
}

// EnsureDefaultThreshold provisions the default rule if it is missing.
func (a *App) EnsureDefaultThreshold(ctx context.Context, now time.Time) (*command.EnsureDefaultThresholdResult, error) {
	return a.EnsureDefault.Handle(ctx, command.EnsureDefaultThresholdCommand{
		Spec:            intervention.DefaultThresholdSpec(),
		ProvisionerName: a.Config.Intervention.ProvisionerName,
		Now:             now,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SHUTDOWN
// ══════════════════════════════════════════════════════════════════════════════

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition. In-flight event
// handlers are drained before the stores close.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
