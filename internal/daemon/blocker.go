// Package daemon implements the blocker and monitor daemons.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

// AlarmBinder routes in-process alarms to a task handler.
type AlarmBinder interface {
	Bind(ctx context.Context, handler domain.TaskHandler)
}

// BlockerConfig holds blocker daemon configuration.
type BlockerConfig struct {
	HeartbeatInterval    time.Duration // How often to update heartbeat
	PartnerCheckInterval time.Duration // How often to check the monitor daemon
}

// DefaultBlockerConfig returns default blocker daemon configuration.
func DefaultBlockerConfig() BlockerConfig {
	return BlockerConfig{
		HeartbeatInterval:    30 * time.Second,
		PartnerCheckInterval: 60 * time.Second,
	}
}

// Blocker is the hosting service of the blocking loop.
// It lives exactly as long as one block: it exits when the loop ends, and
// restarts the monitor daemon if that one dies in the meantime.
type Blocker struct {
	config   BlockerConfig
	engine   *usecase.Engine
	host     *LocalHost
	alarms   AlarmBinder
	registry domain.DaemonRegistry
	spawn    Spawner
	args     []string
	clock    domain.Clock
	daemon   domain.Daemon
	resuming bool
	logger   *zap.Logger
}

// BlockerDeps wires a blocker daemon.
type BlockerDeps struct {
	Config   BlockerConfig
	Engine   *usecase.Engine
	Host     *LocalHost
	Alarms   AlarmBinder
	Registry domain.DaemonRegistry
	Spawn    Spawner
	Args     []string // passed to a respawned monitor
	Clock    domain.Clock
	Daemon   domain.Daemon
	Resuming bool
	Logger   *zap.Logger
}

// NewBlocker creates a blocker daemon.
func NewBlocker(deps BlockerDeps) *Blocker {
	if deps.Spawn == nil {
		deps.Spawn = StartDaemon
	}
	if deps.Clock == nil {
		deps.Clock = domain.SystemClock{}
	}
	return &Blocker{
		config:   deps.Config,
		engine:   deps.Engine,
		host:     deps.Host,
		alarms:   deps.Alarms,
		registry: deps.Registry,
		spawn:    deps.Spawn,
		args:     deps.Args,
		clock:    deps.Clock,
		daemon:   deps.Daemon,
		resuming: deps.Resuming,
		logger:   deps.Logger,
	}
}

// Run hosts the blocking loop until it ends or ctx is cancelled.
func (b *Blocker) Run(ctx context.Context) error {
	if err := b.registry.Register(b.daemon); err != nil {
		b.logger.Error("failed to register blocker", zap.Error(err))
		return err
	}
	defer func() {
		if err := b.registry.Unregister(domain.RoleBlocker, b.daemon.PID); err != nil {
			b.logger.Warn("failed to unregister blocker", zap.Error(err))
		}
	}()

	b.logger.Info("blocker daemon started",
		zap.Int("pid", b.daemon.PID),
		zap.Bool("resuming", b.resuming))

	b.alarms.Bind(ctx, b.engine)
	if err := b.host.Start(ctx, domain.StartOptions{Resuming: b.resuming}); err != nil {
		return err
	}
	loopDone := b.host.Done()
	b.armAlarms()

	heartbeatTicker := time.NewTicker(b.config.HeartbeatInterval)
	partnerCheckTicker := time.NewTicker(b.config.PartnerCheckInterval)
	defer func() {
		heartbeatTicker.Stop()
		partnerCheckTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("blocker daemon stopping")
			b.teardown(ctx)
			return ctx.Err()

		case <-loopDone:
			err := b.host.Err()
			b.logger.Info("blocking loop finished", zap.Error(err))
			b.teardown(ctx)
			return err

		case <-heartbeatTicker.C:
			if err := b.registry.UpdateHeartbeat(domain.RoleBlocker); err != nil {
				b.logger.Warn("failed to update heartbeat", zap.Error(err))
			}

		case <-partnerCheckTicker.C:
			b.checkAndRestartMonitor()
		}
	}
}

// armAlarms registers in-process exact and backup timers for the persisted deadline.
func (b *Blocker) armAlarms() {
	st, err := b.engine.BlockState()
	if err != nil {
		b.logger.Warn("failed to load block state", zap.Error(err))
		return
	}
	if !st.Active(b.clock.Now()) {
		return
	}
	if err := b.engine.Coordinator().ScheduleUnblock(st.BlockEndTime); err != nil {
		b.logger.Warn("failed to arm unblock alarms", zap.Error(err))
	}
}

func (b *Blocker) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := b.host.Stop(ctx); err != nil {
		b.logger.Warn("failed to stop blocking loop", zap.Error(err))
	}
	if err := b.engine.Recovery().OnServiceTeardown(ctx); err != nil {
		b.logger.Warn("teardown recovery failed", zap.Error(err))
	}
}

// checkAndRestartMonitor restarts the monitor daemon if it is not alive.
func (b *Blocker) checkAndRestartMonitor() {
	alive, err := b.registry.IsAlive(domain.RoleMonitor)
	if err == nil && alive {
		return
	}
	b.logger.Info("monitor not running, restarting...")
	if err := b.spawn(domain.RoleMonitor, b.args...); err != nil {
		b.logger.Error("failed to restart monitor", zap.Error(err))
	} else {
		b.logger.Info("monitor restarted successfully")
	}
}
