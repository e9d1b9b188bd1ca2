package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gmsas95/asit/internal/api"
	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/config"
	"github.com/gmsas95/asit/internal/courses"
	"github.com/gmsas95/asit/internal/cron"
	"github.com/gmsas95/asit/internal/intake"
	"github.com/gmsas95/asit/internal/metrics"
	"github.com/gmsas95/asit/internal/notify"
	"github.com/gmsas95/asit/internal/reminders"
	"github.com/gmsas95/asit/internal/store"
	"github.com/gmsas95/asit/internal/transfer"
)

// App wires every service of the tracker. Fields are set by New.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Location  *time.Location
	Store     *store.Store
	Catalog   *catalog.Catalog
	Metrics   *metrics.Metrics
	Center    *notify.Center
	Reminders *reminders.Adapter
	Courses   *courses.Manager
	Engine    *intake.Engine
	Codec     *transfer.Codec
	Runner    *cron.Runner
	Version   string

	catalogWatcher *catalog.Watcher
}

// NewLogger builds the process logger from the log settings
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// New opens storage and builds the service graph. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return build(cfg, st, loc, metrics.Default(), logger, version)
}

// build composes the services over an already opened store
func build(cfg *config.Config, st *store.Store, loc *time.Location, m *metrics.Metrics, logger *zap.Logger, version string) (*App, error) {
	cat := catalog.Load(cfg.Catalog.Path, logger)

	center := notify.NewCenter(st.Badger(), notify.Options{
		Location:          loc,
		DefaultAuthorized: cfg.Notifications.Authorized,
	}, logger.Named("notify"))

	adapter := reminders.New(center, reminders.Options{
		SnoozeDelay: cfg.Notifications.SnoozeDelay,
		Catalog:     cat,
		Metrics:     m,
	}, logger.Named("reminders"))

	mgr, err := courses.NewManager(st, adapter, m, logger.Named("courses"))
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := intake.NewEngine(mgr, intake.Options{
		Catalog:     cat,
		Snoozer:     adapter,
		Deliveries:  center,
		SnoozeDelay: cfg.Notifications.SnoozeDelay,
		Location:    loc,
		Metrics:     m,
	}, logger.Named("intake"))

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Location:  loc,
		Store:     st,
		Catalog:   cat,
		Metrics:   m,
		Center:    center,
		Reminders: adapter,
		Courses:   mgr,
		Engine:    engine,
		Codec:     transfer.New(loc, nil),
		Runner: cron.NewRunner(cron.Config{
			Interval: cfg.Notifications.SyncInterval,
		}, mgr, adapter, logger.Named("sync")),
		Version: version,
	}
	center.OnDeliver(a.present)
	return a, nil
}

// present is the delivery callback: reminders for a day that is already done stay hidden
func (a *App) present(d notify.Delivery) {
	logger := a.Logger.With(
		zap.String("notification_id", d.Request.ID),
		zap.String("course_id", d.Request.Payload.CourseID))

	if !a.Engine.ShouldPresent(d.Request.Payload, d.DeliveredAt) {
		logger.Info("Reminder suppressed")
		return
	}
	logger.Info("Reminder",
		zap.String("title", d.Request.Title),
		zap.String("body", d.Request.Body),
		zap.Strings("actions", []string{notify.ActionTaken, notify.ActionSnooze}))
}

// Start arms notifications and begins syncing reminders. An override catalog
// file is watched so edits reach reminder titles without a restart.
func (a *App) Start(ctx context.Context) error {
	if err := a.Center.Start(ctx); err != nil {
		return err
	}
	if err := a.Runner.Start(); err != nil {
		a.Center.Stop()
		return err
	}

	if path := a.Config.Catalog.Path; path != "" {
		w, err := catalog.Watch(a.Catalog, path, a.Logger.Named("catalog"))
		if err != nil {
			a.Logger.Warn("Catalog changes will need a restart", zap.Error(err))
			return nil
		}
		w.OnReload(func(*catalog.Catalog) {
			if err := a.SyncNow(context.Background()); err != nil {
				a.Logger.Warn("Reminder sync after catalog reload failed", zap.Error(err))
			}
		})
		a.catalogWatcher = w
	}
	return nil
}

// Close stops background work and closes storage
func (a *App) Close() error {
	if a.catalogWatcher != nil {
		a.catalogWatcher.Close()
	}
	a.Runner.Stop()
	a.Center.Stop()
	return a.Store.Close()
}

// RunServer serves the API until SIGINT or SIGTERM
func (a *App) RunServer() error {
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	server := api.New(api.Deps{
		Config:  a.Config,
		Courses: a.Courses,
		Engine:  a.Engine,
		Codec:   a.Codec,
		Catalog: a.Catalog,
		Center:  a.Center,
		Syncer:  a.Reminders,
		Metrics: a.Metrics,
	}, a.Logger.Named("api"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	a.Logger.Info("Server started",
		zap.String("version", a.Version),
		zap.String("address", a.Config.Server.Address),
		zap.Int("port", a.Config.Server.Port),
		zap.String("timezone", a.Location.String()),
		zap.Int("courses", len(a.Courses.Courses())),
		zap.Int("medications", a.Catalog.Len()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		a.Logger.Error("Server error", zap.Error(serveErr))
	}

	a.Logger.Info("Shutting down...")
	if err := server.Shutdown(); err != nil {
		a.Logger.Error("Server shutdown error", zap.Error(err))
	}
	if err := a.Close(); err != nil {
		a.Logger.Error("Store close error", zap.Error(err))
	}
	return serveErr
}

// SyncNow reconciles scheduled reminders with the current courses once
func (a *App) SyncNow(ctx context.Context) error {
	return a.Reminders.SyncAll(ctx, a.Courses.Courses())
}
