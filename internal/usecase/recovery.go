package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/metrics"
	"github.com/eliteGoblin/focusd/screentime/internal/state"
)

// KeyRestart is the task key of the one-shot restart tier.
const KeyRestart = "restart"

// RecoveryConfig holds recovery timing.
type RecoveryConfig struct {
	BootDelay    time.Duration // Wait after boot before reconciling (default 5s)
	RestartDelay time.Duration // Delay of the one-shot restart task (default 10s)
}

// DefaultRecoveryConfig returns default recovery configuration.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		BootDelay:    5 * time.Second,
		RestartDelay: 10 * time.Second,
	}
}

// RecoveryAction is what a reconciliation pass did.
type RecoveryAction string

const (
	ActionNone        RecoveryAction = "none"
	ActionRestartHost RecoveryAction = "restart_host"
	ActionRearm       RecoveryAction = "rearm"
	ActionSelfHeal    RecoveryAction = "self_heal"
	ActionResume      RecoveryAction = "resume"
)

// Recovery recreates the blocking loop and its triggers from persisted state
// after process death or reboot.
type Recovery struct {
	store       *state.Store
	coordinator *Coordinator
	host        domain.ServiceHost
	pause       *PauseController
	deferred    domain.TaskScheduler
	clock       domain.Clock
	config      RecoveryConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRecovery creates a recovery coordinator. deferred receives the restart task.
func NewRecovery(
	store *state.Store,
	coordinator *Coordinator,
	host domain.ServiceHost,
	pause *PauseController,
	deferred domain.TaskScheduler,
	clock domain.Clock,
	config RecoveryConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Recovery {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Recovery{
		store:       store,
		coordinator: coordinator,
		host:        host,
		pause:       pause,
		deferred:    deferred,
		clock:       clock,
		config:      config,
		metrics:     m,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// OnBoot runs after login: wait for the system to settle, reconcile, and
// enqueue a backup restart in case the direct start did not stick.
func (r *Recovery) OnBoot(ctx context.Context) (RecoveryAction, error) {
	if err := r.sleep(ctx, r.config.BootDelay); err != nil {
		return ActionNone, err
	}

	action, err := r.Reconcile(ctx)
	if err != nil {
		return action, err
	}

	active, err := r.store.IsActive()
	if err != nil {
		return action, err
	}
	if active {
		if err := r.ScheduleRestart(); err != nil {
			r.logger.Warn("failed to enqueue backup restart", zap.Error(err))
		}
	}
	return action, nil
}

// Reconcile re-derives what should be running from persisted state and makes it so.
func (r *Recovery) Reconcile(ctx context.Context) (RecoveryAction, error) {
	now := r.clock.Now()

	ps, err := r.store.LoadPause()
	if err != nil {
		return ActionNone, fmt.Errorf("load pause state: %w", err)
	}
	if ps.IsPaused {
		if ps.Expired(now) {
			r.logger.Info("pause deadline passed while nobody was watching, resuming")
			if _, err := r.pause.Resume(ctx); err != nil {
				return ActionNone, err
			}
			return r.record(ActionResume), nil
		}
		if err := r.coordinator.ScheduleResume(ps.PauseEndTime); err != nil {
			return ActionNone, err
		}
		return r.record(ActionRearm), nil
	}

	st, err := r.store.LoadBlock()
	if err != nil {
		return ActionNone, fmt.Errorf("load block state: %w", err)
	}

	switch {
	case st.Active(now):
		action := ActionRearm
		if !r.host.IsRunning() {
			r.logger.Info("blocking service not running, restarting",
				zap.Duration("remaining", st.Remaining(now)))
			if err := r.host.Start(ctx, domain.StartOptions{}); err != nil {
				r.logger.Error("failed to restart blocking service", zap.Error(err))
				if err := r.ScheduleRestart(); err != nil {
					r.logger.Warn("failed to enqueue restart", zap.Error(err))
				}
			}
			action = ActionRestartHost
		}
		if err := r.coordinator.ScheduleUnblock(st.BlockEndTime); err != nil {
			return action, err
		}
		return r.record(action), nil

	case st.IsBlocking:
		// Deadline passed or nothing to block: stale record.
		r.logger.Info("clearing stale block state", zap.Time("block_end", st.BlockEndTime))
		won, err := r.store.ClaimUnblock()
		if err != nil {
			return ActionNone, fmt.Errorf("clear stale block: %w", err)
		}
		if won {
			r.metrics.TerminalUnblock()
		}
		if err := r.coordinator.CancelUnblock(); err != nil {
			r.logger.Warn("failed to cancel unblock triggers", zap.Error(err))
		}
		if r.host.IsRunning() {
			if err := r.host.Stop(ctx); err != nil {
				r.logger.Warn("failed to stop blocking service", zap.Error(err))
			}
		}
		return r.record(ActionSelfHeal), nil
	}

	return ActionNone, nil
}

// OnServiceTeardown is called when the blocking service goes away. If the block
// is still logically active the one-shot restart tier is armed.
func (r *Recovery) OnServiceTeardown(ctx context.Context) error {
	active, err := r.store.IsActive()
	if err != nil {
		return err
	}
	if !active {
		return nil
	}
	r.logger.Info("blocking service torn down during an active block, scheduling restart")
	return r.ScheduleRestart()
}

// ScheduleRestart enqueues the one-shot restart task.
func (r *Recovery) ScheduleRestart() error {
	return r.deferred.Schedule(domain.Task{
		Key:   KeyRestart,
		Kind:  domain.TaskRestart,
		Tier:  domain.TierDeferred,
		DueAt: r.clock.Now().Add(r.config.RestartDelay),
	})
}

func (r *Recovery) record(action RecoveryAction) RecoveryAction {
	r.metrics.Recovery(string(action))
	r.logger.Debug("reconciled", zap.String("action", string(action)))
	return action
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
