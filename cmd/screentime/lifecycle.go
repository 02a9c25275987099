package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/config"
	"github.com/eliteGoblin/focusd/screentime/internal/daemon"
	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

const metricsFlushInterval = 15 * time.Second

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Resume an interrupted block after login (run by launchd)",
	RunE:  runBoot,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the binary and the login boot job",
	Long: `Copies the binary to its install location and registers a launchd job
that runs "screentime boot" at login. Run with sudo for a system-wide LaunchDaemon.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the login boot job",
	RunE:  runUninstall,
}

// daemonCmd is spawned by the engine and by the daemons themselves.
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run as daemon (internal use)",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	daemonRole     string
	daemonResuming bool
)

func init() {
	daemonCmd.Flags().StringVar(&daemonRole, "role", "", "Daemon role (blocker/monitor)")
	daemonCmd.Flags().BoolVar(&daemonResuming, "resuming", false, "Start the blocking loop in resume mode")

	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runBoot(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(zap.NewNop())
	if err != nil {
		return err
	}
	logger := createLogger(cfg.LogFile).Named("boot")
	defer func() { _ = logger.Sync() }()

	a, err := openApp(logger)
	if err != nil {
		logger.Error("failed to open state", zap.Error(err))
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := a.processEngine()
	action, err := engine.Recovery().OnBoot(ctx)
	if err != nil {
		logger.Error("boot recovery failed", zap.Error(err))
		return err
	}
	logger.Info("boot recovery finished", zap.String("action", string(action)))

	if err := engine.Schedules().Rearm(); err != nil {
		logger.Warn("failed to re-arm schedules", zap.Error(err))
	}
	a.ensureMonitor()
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	execMode := infra.DetectExecMode()
	if dataDirFlag != "" {
		execMode.DataDir = dataDirFlag
	}

	fmt.Printf("Execution mode: %s\n", execMode.Mode)

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath := execMode.BinaryPath
	if currentExecPath != binaryPath {
		if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
			fmt.Printf("Warning: Could not create binary directory: %v\n", err)
			binaryPath = currentExecPath
		} else if err := copyBinary(currentExecPath, binaryPath); err != nil {
			fmt.Printf("Warning: Could not copy binary to %s: %v\n", binaryPath, err)
			binaryPath = currentExecPath
		} else {
			fmt.Printf("Installed binary to %s\n", binaryPath)
		}
	}

	if err := os.MkdirAll(execMode.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	launchd := infra.NewLaunchdManager(execMode)
	switch {
	case !launchd.IsInstalled():
		if err := launchd.Install(binaryPath); err != nil {
			return fmt.Errorf("failed to install %s boot job: %w", execMode.Mode, err)
		}
		fmt.Printf("Installed boot job %s\n", launchd.GetPlistPath())
	case launchd.NeedsUpdate(binaryPath):
		if err := launchd.Update(binaryPath); err != nil {
			return fmt.Errorf("failed to update boot job: %w", err)
		}
		fmt.Printf("Updated boot job %s\n", launchd.GetPlistPath())
	default:
		fmt.Println("Boot job already up to date")
	}
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	launchd := infra.NewLaunchdManager(infra.DetectExecMode())
	if !launchd.IsInstalled() {
		fmt.Println("Boot job not installed")
		return nil
	}
	if err := launchd.Uninstall(); err != nil {
		return err
	}
	fmt.Println("Boot job removed")
	return nil
}

// copyBinary copies the binary file to destination using atomic write pattern.
// Writes to temp file first, syncs, chmods, then renames to avoid corruption.
func copyBinary(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".screentime-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmpFile, sourceFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err = tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err = os.Chmod(tmpPath, 0755); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	role := domain.DaemonRole(daemonRole)
	if role != domain.RoleBlocker && role != domain.RoleMonitor {
		return fmt.Errorf("--role must be %q or %q", domain.RoleBlocker, domain.RoleMonitor)
	}

	_, cfg, err := loadConfig(zap.NewNop())
	if err != nil {
		return err
	}
	logger := createLogger(cfg.LogFile).With(zap.String("role", string(role)))
	defer func() { _ = logger.Sync() }()

	a, err := openApp(logger)
	if err != nil {
		logger.Error("failed to open state", zap.Error(err))
		return err
	}
	defer a.Close()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := a.loader.Watch(ctx); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer a.loader.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case err := <-a.loader.Errors():
					logger.Warn("config reload rejected", zap.Error(err))
				}
			}
		}()
	}

	go a.flushMetrics(ctx, role)
	defer a.writeMetrics(role)

	d := domain.Daemon{
		PID:        os.Getpid(),
		Role:       role,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	switch role {
	case domain.RoleBlocker:
		return a.runBlocker(ctx, d)
	default:
		return a.runMonitor(ctx, d)
	}
}

// runBlocker hosts the blocking loop in this process. Alarms are in-process
// timers; the persisted tiers stay with the monitor.
func (a *app) runBlocker(ctx context.Context, d domain.Daemon) error {
	timers := infra.NewTimerScheduler(a.clock, a.logger.Named("timers"))

	var loop *usecase.Blocker
	host := daemon.NewLocalHost(ctx, func(ctx context.Context, opts domain.StartOptions) error {
		return loop.Run(ctx, opts)
	}, a.logger.Named("host"))

	engine := usecase.NewEngine(a.engineDeps(host, timers))
	overlay := usecase.NewOverlayController(
		infra.NewProcessOverlay(a.pm, a.cfg.Blocker.OverlaySweep, a.logger.Named("overlay")),
		a.metrics,
		a.logger.Named("overlay"),
	)
	loop = usecase.NewBlocker(
		a.store,
		a.detector(),
		overlay,
		infra.DesktopDevice{},
		a.permissions(),
		engine.Coordinator(),
		a.clock,
		a.cfg.BlockerLoop(),
		a.metrics,
		a.logger.Named("loop"),
	)

	blockerConfig := daemon.DefaultBlockerConfig()
	blockerConfig.HeartbeatInterval = a.cfg.Daemon.HeartbeatInterval

	// The loop captures its policy when it starts, so a reload waits for the next block.
	a.loader.OnChange(func(next *config.Config) {
		a.logger.Info("config changed, applies from the next blocking loop",
			zap.String("path", a.loader.Path()))
	})

	blocker := daemon.NewBlocker(daemon.BlockerDeps{
		Config:   blockerConfig,
		Engine:   engine,
		Host:     host,
		Alarms:   timers,
		Registry: a.db,
		Args:     a.daemonArgs(),
		Clock:    a.clock,
		Daemon:   d,
		Resuming: daemonResuming,
		Logger:   a.logger.Named("blocker"),
	})
	err := blocker.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) runMonitor(ctx context.Context, d domain.Daemon) error {
	monitor := daemon.NewMonitor(daemon.MonitorDeps{
		Config:   monitorConfig(a.cfg),
		Engine:   a.processEngine(),
		Tasks:    a.queue,
		Journal:  a.journal,
		Registry: a.db,
		Clock:    a.clock,
		Daemon:   d,
		Logger:   a.logger.Named("monitor"),
	})
	a.loader.OnChange(func(next *config.Config) {
		monitor.Reconfigure(monitorConfig(next))
	})

	err := monitor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func monitorConfig(cfg *config.Config) daemon.MonitorConfig {
	return daemon.MonitorConfig{
		TaskPollInterval:  cfg.Daemon.TaskPollInterval,
		ReconcileInterval: cfg.Daemon.ReconcileInterval,
		HeartbeatInterval: cfg.Daemon.HeartbeatInterval,
		CompactInterval:   cfg.Daemon.CompactInterval,
		JournalRetention:  cfg.Daemon.JournalRetention,
	}
}

func metricsPath(dataDir string, role domain.DaemonRole) string {
	return filepath.Join(dataDir, "metrics-"+string(role)+".prom")
}

func (a *app) flushMetrics(ctx context.Context, role domain.DaemonRole) {
	ticker := time.NewTicker(metricsFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.writeMetrics(role)
		}
	}
}

// writeMetrics replaces the role's metrics file with the current counters.
func (a *app) writeMetrics(role domain.DaemonRole) {
	var buf bytes.Buffer
	if err := a.metrics.WriteText(&buf); err != nil {
		a.logger.Warn("failed to render metrics", zap.Error(err))
		return
	}
	path := metricsPath(a.cfg.DataDir, role)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		a.logger.Warn("failed to write metrics", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		a.logger.Warn("failed to write metrics", zap.Error(err))
	}
}
