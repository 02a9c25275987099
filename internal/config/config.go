// Package config holds the tunable policy constants and file paths of screentime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

// FileName is the config file looked up in the data directory.
const FileName = "config.yaml"

// Config is the complete runtime configuration. Zero-valued sections are never
// used directly: start from Default and override.
type Config struct {
	DataDir     string   `toml:"data_dir" yaml:"data_dir" validate:"required"`
	JournalPath string   `toml:"journal_path" yaml:"journal_path"`
	LogFile     string   `toml:"log_file" yaml:"log_file"`
	AppDirs     []string `toml:"app_dirs" yaml:"app_dirs"`

	Blocker  BlockerConfig  `toml:"blocker" yaml:"blocker"`
	Detector DetectorConfig `toml:"detector" yaml:"detector"`
	Triggers TriggerConfig  `toml:"triggers" yaml:"triggers"`
	Recovery RecoveryConfig `toml:"recovery" yaml:"recovery"`
	Daemon   DaemonConfig   `toml:"daemon" yaml:"daemon"`
	Monitor  MonitorConfig  `toml:"monitor" yaml:"monitor"`
}

// BlockerConfig tunes the blocking loop.
type BlockerConfig struct {
	TickInterval          time.Duration `toml:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
	FreshnessWindow       time.Duration `toml:"freshness_window" yaml:"freshness_window" validate:"gt=0"`
	LongIdleThreshold     time.Duration `toml:"long_idle_threshold" yaml:"long_idle_threshold" validate:"gt=0"`
	RetryDelay            time.Duration `toml:"retry_delay" yaml:"retry_delay" validate:"gt=0"`
	DetectionWindow       time.Duration `toml:"detection_window" yaml:"detection_window" validate:"gt=0"`
	ResumeDetectionWindow time.Duration `toml:"resume_detection_window" yaml:"resume_detection_window" validate:"gt=0"`
	OverlaySweep          time.Duration `toml:"overlay_sweep" yaml:"overlay_sweep" validate:"gt=0"`
}

// DetectorConfig tunes stats-fallback acceptance.
type DetectorConfig struct {
	RecencyThreshold       time.Duration `toml:"recency_threshold" yaml:"recency_threshold" validate:"gt=0"`
	ResumeRecencyThreshold time.Duration `toml:"resume_recency_threshold" yaml:"resume_recency_threshold" validate:"gt=0"`
}

// TriggerConfig tunes the redundant trigger tiers.
type TriggerConfig struct {
	BackupSlack        time.Duration `toml:"backup_slack" yaml:"backup_slack" validate:"gte=0"`
	DeferredResolution time.Duration `toml:"deferred_resolution" yaml:"deferred_resolution" validate:"gt=0"`
}

// RecoveryConfig tunes boot and restart recovery.
type RecoveryConfig struct {
	BootDelay    time.Duration `toml:"boot_delay" yaml:"boot_delay" validate:"gte=0"`
	RestartDelay time.Duration `toml:"restart_delay" yaml:"restart_delay" validate:"gt=0"`
}

// DaemonConfig tunes the background daemons.
type DaemonConfig struct {
	TaskPollInterval  time.Duration `toml:"task_poll_interval" yaml:"task_poll_interval" validate:"gt=0"`
	ReconcileInterval time.Duration `toml:"reconcile_interval" yaml:"reconcile_interval" validate:"gt=0"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval" yaml:"heartbeat_interval" validate:"gt=0"`
	CompactInterval   time.Duration `toml:"compact_interval" yaml:"compact_interval" validate:"gt=0"`
	JournalRetention  time.Duration `toml:"journal_retention" yaml:"journal_retention" validate:"gt=0"`
}

// MonitorConfig tunes the foreground-app monitoring stream.
type MonitorConfig struct {
	PollInterval time.Duration        `toml:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	Interval     domain.UsageInterval `toml:"interval" yaml:"interval" validate:"oneof=daily weekly monthly yearly best"`
	Lookback     time.Duration        `toml:"lookback" yaml:"lookback" validate:"gt=0"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	dataDir := infra.DetectExecMode().DataDir
	return DefaultWithDataDir(dataDir)
}

// DefaultWithDataDir returns defaults rooted at dataDir.
func DefaultWithDataDir(dataDir string) *Config {
	blocker := usecase.DefaultBlockerConfig()
	detector := usecase.DefaultDetectorConfig()
	coord := usecase.DefaultCoordinatorConfig()
	recovery := usecase.DefaultRecoveryConfig()
	monitor := usecase.DefaultAppMonitorConfig()

	return &Config{
		DataDir:     dataDir,
		JournalPath: filepath.Join(dataDir, "usage.jsonl"),
		LogFile:     filepath.Join(dataDir, "screentime.log"),
		AppDirs:     append([]string(nil), infra.DefaultAppDirs...),
		Blocker: BlockerConfig{
			TickInterval:          blocker.TickInterval,
			FreshnessWindow:       blocker.FreshnessWindow,
			LongIdleThreshold:     blocker.LongIdleThreshold,
			RetryDelay:            blocker.RetryDelay,
			DetectionWindow:       blocker.DetectionWindow,
			ResumeDetectionWindow: blocker.ResumeDetectionWindow,
			OverlaySweep:          infra.DefaultOverlaySweep,
		},
		Detector: DetectorConfig{
			RecencyThreshold:       detector.RecencyThreshold,
			ResumeRecencyThreshold: detector.ResumeRecencyThreshold,
		},
		Triggers: TriggerConfig{
			BackupSlack:        coord.BackupSlack,
			DeferredResolution: coord.DeferredResolution,
		},
		Recovery: RecoveryConfig{
			BootDelay:    recovery.BootDelay,
			RestartDelay: recovery.RestartDelay,
		},
		Daemon: DaemonConfig{
			TaskPollInterval:  time.Second,
			ReconcileInterval: 15 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			CompactInterval:   time.Hour,
			JournalRetention:  30 * 24 * time.Hour,
		},
		Monitor: MonitorConfig{
			PollInterval: monitor.PollInterval,
			Interval:     monitor.Interval,
			Lookback:     monitor.Lookback,
		},
	}
}

// Validate checks field constraints and the relations between thresholds.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if c.Detector.ResumeRecencyThreshold < c.Detector.RecencyThreshold {
		errs = append(errs, errors.New("detector.resume_recency_threshold must not be below detector.recency_threshold"))
	}
	if c.Blocker.ResumeDetectionWindow < c.Blocker.DetectionWindow {
		errs = append(errs, errors.New("blocker.resume_detection_window must not be below blocker.detection_window"))
	}
	if c.Blocker.LongIdleThreshold < c.Blocker.FreshnessWindow {
		errs = append(errs, errors.New("blocker.long_idle_threshold must not be below blocker.freshness_window"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies SCREENTIME_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SCREENTIME_DATA_DIR"); v != "" {
		c.SetDataDir(v)
	}
	if v := os.Getenv("SCREENTIME_JOURNAL"); v != "" {
		c.JournalPath = v
	}
	if v := os.Getenv("SCREENTIME_LOG_FILE"); v != "" {
		c.LogFile = v
	}
}

// SetDataDir moves the data directory. Paths inside the old one move with it.
func (c *Config) SetDataDir(dir string) {
	old := c.DataDir
	c.DataDir = dir
	c.JournalPath = rebase(c.JournalPath, old, dir)
	c.LogFile = rebase(c.LogFile, old, dir)
}

func rebase(path, from, to string) string {
	if path == "" || from == "" {
		return path
	}
	rel, err := filepath.Rel(from, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.Join(to, rel)
}

// BlockerLoop maps the blocker section to the loop configuration.
func (c *Config) BlockerLoop() usecase.BlockerConfig {
	return usecase.BlockerConfig{
		TickInterval:          c.Blocker.TickInterval,
		FreshnessWindow:       c.Blocker.FreshnessWindow,
		LongIdleThreshold:     c.Blocker.LongIdleThreshold,
		RetryDelay:            c.Blocker.RetryDelay,
		DetectionWindow:       c.Blocker.DetectionWindow,
		ResumeDetectionWindow: c.Blocker.ResumeDetectionWindow,
	}
}

// DetectorPolicy maps the detector section.
func (c *Config) DetectorPolicy() usecase.DetectorConfig {
	return usecase.DetectorConfig{
		RecencyThreshold:       c.Detector.RecencyThreshold,
		ResumeRecencyThreshold: c.Detector.ResumeRecencyThreshold,
	}
}

// CoordinatorPolicy maps the trigger section.
func (c *Config) CoordinatorPolicy() usecase.CoordinatorConfig {
	return usecase.CoordinatorConfig{
		BackupSlack:        c.Triggers.BackupSlack,
		DeferredResolution: c.Triggers.DeferredResolution,
	}
}

// RecoveryPolicy maps the recovery section.
func (c *Config) RecoveryPolicy() usecase.RecoveryConfig {
	return usecase.RecoveryConfig{
		BootDelay:    c.Recovery.BootDelay,
		RestartDelay: c.Recovery.RestartDelay,
	}
}

// MonitorPolicy maps the monitor section.
func (c *Config) MonitorPolicy() usecase.AppMonitorConfig {
	return usecase.AppMonitorConfig{
		PollInterval: c.Monitor.PollInterval,
		Interval:     c.Monitor.Interval,
		Lookback:     c.Monitor.Lookback,
	}
}
