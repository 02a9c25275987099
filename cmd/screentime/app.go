package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/screentime/internal/config"
	"github.com/eliteGoblin/focusd/screentime/internal/daemon"
	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/metrics"
	"github.com/eliteGoblin/focusd/screentime/internal/plugin"
	"github.com/eliteGoblin/focusd/screentime/internal/state"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

// app holds the infrastructure shared by every command.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	logger  *zap.Logger
	pm      domain.ProcessManager
	db      *infra.StateDB
	store   *state.Store
	queue   *infra.TaskQueue
	journal *infra.UsageJournal
	metrics *metrics.Metrics
	clock   domain.Clock
	host    *daemon.ProcessHost
}

// loadConfig resolves --data-dir and --config and loads the configuration.
func loadConfig(logger *zap.Logger) (*config.Loader, *config.Config, error) {
	defaults := config.Default()
	if dataDirFlag != "" {
		defaults = config.DefaultWithDataDir(dataDirFlag)
	}
	path := configFlag
	if path == "" {
		path = filepath.Join(defaults.DataDir, config.FileName)
	}
	loader := config.NewLoader(path, defaults, logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// openApp loads config and opens the encrypted state database.
func openApp(logger *zap.Logger) (*app, error) {
	loader, cfg, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}

	pm := infra.NewProcessManager()
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load state key: %w", err)
	}
	db, err := infra.OpenStateDB(cfg.DataDir, key, pm)
	if err != nil {
		return nil, err
	}

	clock := domain.SystemClock{}
	return &app{
		loader:  loader,
		cfg:     cfg,
		logger:  logger,
		pm:      pm,
		db:      db,
		store:   state.New(db, clock),
		queue:   infra.NewTaskQueue(db, logger.Named("tasks")),
		journal: infra.NewUsageJournal(cfg.JournalPath, logger.Named("journal")),
		metrics: metrics.New(),
		clock:   clock,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// daemonArgs is appended to every spawned daemon so it opens the same state.
func (a *app) daemonArgs() []string {
	return []string{"--data-dir", a.cfg.DataDir, "--config", a.loader.Path()}
}

func (a *app) engineDeps(host domain.ServiceHost, alarms domain.TaskScheduler) usecase.EngineDeps {
	return usecase.EngineDeps{
		Store:       a.store,
		Host:        host,
		Notifier:    infra.NewLogNotifier(a.logger.Named("notifier")),
		Alarms:      alarms,
		Deferred:    a.queue,
		Clock:       a.clock,
		Metrics:     a.metrics,
		Logger:      a.logger.Named("engine"),
		Coordinator: a.cfg.CoordinatorPolicy(),
		Recovery:    a.cfg.RecoveryPolicy(),
	}
}

// processEngine builds an engine whose blocking service is the blocker daemon.
// Every trigger tier is persisted; the monitor daemon runs them.
func (a *app) processEngine() *usecase.Engine {
	a.host = daemon.NewProcessHost(a.db, a.pm, daemon.StartDaemon, a.logger.Named("host"), a.daemonArgs()...)
	return usecase.NewEngine(a.engineDeps(a.host, a.queue))
}

// ensureMonitor makes sure persisted triggers have a daemon to run them.
func (a *app) ensureMonitor() {
	if a.host == nil {
		return
	}
	if err := a.host.EnsureMonitor(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func (a *app) permissions() *infra.DesktopPermissions {
	return infra.NewDesktopPermissions(a.journal, a.logger.Named("permissions"))
}

func (a *app) detector() *usecase.Detector {
	return usecase.NewDetector(a.journal, a.clock, a.cfg.DetectorPolicy(), a.logger.Named("detector"))
}

// plugin builds the request boundary over engine.
func (a *app) plugin(engine *usecase.Engine) *plugin.Plugin {
	return plugin.New(plugin.Deps{
		Engine:      engine,
		Monitor:     usecase.NewAppMonitor(a.detector(), a.cfg.MonitorPolicy(), a.logger.Named("monitor")),
		Catalog:     infra.NewBundleCatalog(a.cfg.AppDirs, a.logger.Named("catalog")),
		Permissions: a.permissions(),
		Usage:       a.journal,
		Clock:       a.clock,
		Logger:      a.logger.Named("plugin"),
	})
}

// withPlugin opens the app, runs fn against a process-hosted engine and closes.
func withPlugin(fn func(ctx context.Context, a *app, p *plugin.Plugin) error) error {
	logger := createCLILogger()
	defer func() { _ = logger.Sync() }()

	a, err := openApp(logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(context.Background(), a, a.plugin(a.processEngine()))
}

// createLogger builds the daemon logger writing JSON lines to path.
func createLogger(path string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{path}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(filepath.Dir(path), 0700); err == nil {
		if logger, err := config.Build(); err == nil {
			return logger
		}
	}
	// Fallback to stderr if file logging fails
	logger, _ := zap.NewProduction()
	return logger
}

// createCLILogger logs warnings and errors of interactive commands to stderr.
func createCLILogger() *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
