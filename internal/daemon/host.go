package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// RunFunc runs the blocking loop until it ends or ctx is cancelled.
type RunFunc func(ctx context.Context, opts domain.StartOptions) error

// LocalHost implements domain.ServiceHost by running the blocking loop in a
// goroutine of the current process. It is used inside the blocker daemon.
type LocalHost struct {
	parent context.Context
	run    RunFunc
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

var _ domain.ServiceHost = (*LocalHost)(nil)

// NewLocalHost creates a host whose loops live at most as long as parent.
func NewLocalHost(parent context.Context, run RunFunc, logger *zap.Logger) *LocalHost {
	closed := make(chan struct{})
	close(closed)
	return &LocalHost{parent: parent, run: run, logger: logger, done: closed}
}

// Start replaces any running loop with a new one.
func (h *LocalHost) Start(ctx context.Context, opts domain.StartOptions) error {
	if err := h.Stop(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.parent.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(h.parent)
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done
	h.err = nil

	go func() {
		defer close(done)
		defer cancel()
		err := h.run(runCtx, opts)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return nil
}

// Stop cancels the running loop and waits for it to exit.
func (h *LocalHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a loop is active.
func (h *LocalHost) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed when the current loop exits.
func (h *LocalHost) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Err returns what the last loop returned.
func (h *LocalHost) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// ProcessHost implements domain.ServiceHost by spawning and terminating the
// blocker daemon. Liveness comes from the daemon registry.
type ProcessHost struct {
	registry    domain.DaemonRegistry
	pm          domain.ProcessManager
	spawn       Spawner
	args        []string
	stopTimeout time.Duration
	logger      *zap.Logger
}

var _ domain.ServiceHost = (*ProcessHost)(nil)

// NewProcessHost creates a host. args are appended to every spawned daemon's command line.
func NewProcessHost(registry domain.DaemonRegistry, pm domain.ProcessManager, spawn Spawner, logger *zap.Logger, args ...string) *ProcessHost {
	if spawn == nil {
		spawn = StartDaemon
	}
	return &ProcessHost{
		registry:    registry,
		pm:          pm,
		spawn:       spawn,
		args:        args,
		stopTimeout: 5 * time.Second,
		logger:      logger,
	}
}

// Start (re)launches the blocker daemon. A running daemon is replaced so it
// picks up the new overlay options.
func (h *ProcessHost) Start(ctx context.Context, opts domain.StartOptions) error {
	if err := h.Stop(ctx); err != nil {
		h.logger.Warn("failed to stop previous blocker daemon", zap.Error(err))
	}
	args := append([]string(nil), h.args...)
	if opts.Resuming {
		args = append(args, "--resuming")
	}
	if err := h.spawn(domain.RoleBlocker, args...); err != nil {
		return err
	}
	h.logger.Info("blocker daemon spawned", zap.Bool("resuming", opts.Resuming))
	return h.EnsureMonitor()
}

// Stop terminates the blocker daemon and waits for it to go away,
// killing it if it outlives the stop timeout.
func (h *ProcessHost) Stop(ctx context.Context) error {
	d, err := h.registry.Lookup(domain.RoleBlocker)
	if err != nil || d == nil {
		return nil
	}
	if !h.pm.IsRunning(d.PID) {
		return nil
	}
	if err := h.pm.Terminate(d.PID); err != nil {
		return fmt.Errorf("terminate blocker %d: %w", d.PID, err)
	}

	deadline := time.NewTimer(h.stopTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			h.logger.Warn("blocker did not exit in time, killing", zap.Int("pid", d.PID))
			if err := h.pm.Kill(d.PID); err != nil && h.pm.IsRunning(d.PID) {
				return fmt.Errorf("kill blocker %d: %w", d.PID, err)
			}
			return nil
		case <-poll.C:
			if !h.pm.IsRunning(d.PID) {
				return nil
			}
		}
	}
}

// IsRunning reports whether the registered blocker daemon is alive.
func (h *ProcessHost) IsRunning() bool {
	alive, err := h.registry.IsAlive(domain.RoleBlocker)
	return err == nil && alive
}

// EnsureMonitor spawns the monitor daemon unless one is alive.
func (h *ProcessHost) EnsureMonitor() error {
	alive, err := h.registry.IsAlive(domain.RoleMonitor)
	if err == nil && alive {
		return nil
	}
	if err := h.spawn(domain.RoleMonitor, h.args...); err != nil {
		return errors.Join(errors.New("monitor daemon not running"), err)
	}
	h.logger.Info("monitor daemon spawned")
	return nil
}
