package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

// TaskRunner runs persisted tasks that have come due.
type TaskRunner interface {
	RunDue(ctx context.Context, now time.Time, handler domain.TaskHandler) (int, error)
}

// JournalCompactor drops usage events older than keepSince.
type JournalCompactor interface {
	Compact(ctx context.Context, keepSince time.Time) (int, error)
}

// MonitorConfig holds monitor daemon configuration.
type MonitorConfig struct {
	TaskPollInterval  time.Duration // How often to run due persisted tasks
	ReconcileInterval time.Duration // How often to re-derive the running state
	HeartbeatInterval time.Duration // How often to update heartbeat
	CompactInterval   time.Duration // How often to compact the usage journal
	JournalRetention  time.Duration // How long usage events are kept
}

// DefaultMonitorConfig returns default monitor daemon configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TaskPollInterval:  time.Second,
		ReconcileInterval: 15 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		CompactInterval:   time.Hour,
		JournalRetention:  30 * 24 * time.Hour,
	}
}

// Monitor runs the deferred trigger tier and keeps the blocker daemon alive.
// Reconcile restarts the blocker through the engine's host whenever a block is
// active and nothing hosts it.
type Monitor struct {
	config   MonitorConfig
	engine   *usecase.Engine
	tasks    TaskRunner
	journal  JournalCompactor
	registry domain.DaemonRegistry
	clock    domain.Clock
	daemon   domain.Daemon
	logger   *zap.Logger
	reconfig chan MonitorConfig
}

// MonitorDeps wires a monitor daemon. Journal may be nil.
type MonitorDeps struct {
	Config   MonitorConfig
	Engine   *usecase.Engine
	Tasks    TaskRunner
	Journal  JournalCompactor
	Registry domain.DaemonRegistry
	Clock    domain.Clock
	Daemon   domain.Daemon
	Logger   *zap.Logger
}

// NewMonitor creates a monitor daemon.
func NewMonitor(deps MonitorDeps) *Monitor {
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	return &Monitor{
		config:   deps.Config,
		engine:   deps.Engine,
		tasks:    deps.Tasks,
		journal:  deps.Journal,
		registry: deps.Registry,
		clock:    deps.Clock,
		daemon:   deps.Daemon,
		logger:   deps.Logger,
		reconfig: make(chan MonitorConfig, 1),
	}
}

// Reconfigure hands a new configuration to the running loop. Non-positive
// fields keep their current value. Only the latest pending update is kept.
func (m *Monitor) Reconfigure(cfg MonitorConfig) {
	for {
		select {
		case m.reconfig <- cfg:
			return
		default:
		}
		select {
		case <-m.reconfig:
		default:
		}
	}
}

// Run starts the monitor loop.
// This blocks until context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.registry.Register(m.daemon); err != nil {
		m.logger.Error("failed to register monitor", zap.Error(err))
		return err
	}
	defer func() {
		if err := m.registry.Unregister(domain.RoleMonitor, m.daemon.PID); err != nil {
			m.logger.Warn("failed to unregister monitor", zap.Error(err))
		}
	}()

	m.logger.Info("monitor daemon started", zap.Int("pid", m.daemon.PID))

	m.rearmSchedules()
	m.reconcile(ctx)
	m.runDue(ctx)
	m.compact(ctx)

	taskTicker := time.NewTicker(m.config.TaskPollInterval)
	reconcileTicker := time.NewTicker(m.config.ReconcileInterval)
	heartbeatTicker := time.NewTicker(m.config.HeartbeatInterval)
	compactTicker := time.NewTicker(m.config.CompactInterval)

	defer func() {
		taskTicker.Stop()
		reconcileTicker.Stop()
		heartbeatTicker.Stop()
		compactTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor daemon stopping")
			return ctx.Err()

		case <-taskTicker.C:
			m.runDue(ctx)

		case <-reconcileTicker.C:
			m.reconcile(ctx)

		case <-heartbeatTicker.C:
			if err := m.registry.UpdateHeartbeat(domain.RoleMonitor); err != nil {
				m.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-compactTicker.C:
			m.compact(ctx)

		case next := <-m.reconfig:
			resetTicker(taskTicker, &m.config.TaskPollInterval, next.TaskPollInterval)
			resetTicker(reconcileTicker, &m.config.ReconcileInterval, next.ReconcileInterval)
			resetTicker(heartbeatTicker, &m.config.HeartbeatInterval, next.HeartbeatInterval)
			resetTicker(compactTicker, &m.config.CompactInterval, next.CompactInterval)
			if next.JournalRetention > 0 {
				m.config.JournalRetention = next.JournalRetention
			}
			m.logger.Info("monitor reconfigured",
				zap.Duration("task_poll_interval", m.config.TaskPollInterval),
				zap.Duration("reconcile_interval", m.config.ReconcileInterval))
		}
	}
}

func (m *Monitor) runDue(ctx context.Context) {
	n, err := m.tasks.RunDue(ctx, m.clock.Now(), m.engine)
	if err != nil {
		m.logger.Warn("running due tasks failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Debug("ran due tasks", zap.Int("count", n))
	}
}

func (m *Monitor) reconcile(ctx context.Context) {
	action, err := m.engine.Recovery().Reconcile(ctx)
	if err != nil {
		m.logger.Error("reconcile failed", zap.Error(err))
		return
	}
	if action != usecase.ActionNone {
		m.logger.Info("reconciled", zap.String("action", string(action)))
	}
}

func (m *Monitor) rearmSchedules() {
	if err := m.engine.Schedules().Rearm(); err != nil {
		m.logger.Warn("failed to re-arm schedules", zap.Error(err))
	}
}

func (m *Monitor) compact(ctx context.Context) {
	if m.journal == nil {
		return
	}
	dropped, err := m.journal.Compact(ctx, m.clock.Now().Add(-m.config.JournalRetention))
	if err != nil {
		m.logger.Warn("journal compaction failed", zap.Error(err))
		return
	}
	if dropped > 0 {
		m.logger.Info("usage journal compacted", zap.Int("dropped", dropped))
	}
}

func resetTicker(t *time.Ticker, current *time.Duration, next time.Duration) {
	if next <= 0 || next == *current {
		return
	}
	*current = next
	t.Reset(next)
}
