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

// EngineDeps wires an Engine. Alarms and Deferred may be the same scheduler.
type EngineDeps struct {
	Store    *state.Store
	Host     domain.ServiceHost
	Notifier domain.Notifier
	Alarms   domain.TaskScheduler
	Deferred domain.TaskScheduler
	Clock    domain.Clock
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	Coordinator CoordinatorConfig
	Recovery    RecoveryConfig
}

// Engine implements the block lifecycle and dispatches fired triggers.
type Engine struct {
	store       *state.Store
	host        domain.ServiceHost
	coordinator *Coordinator
	pause       *PauseController
	recovery    *Recovery
	schedules   *ScheduleManager
	clock       domain.Clock
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewEngine creates an engine and its pause, recovery and schedule components.
func NewEngine(deps EngineDeps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:   deps.Store,
		host:    deps.Host,
		clock:   clock,
		metrics: deps.Metrics,
		logger:  logger,
	}
	e.coordinator = NewCoordinator(deps.Alarms, deps.Deferred, clock, deps.Coordinator, logger.Named("coordinator"))
	e.pause = NewPauseController(deps.Store, e.coordinator, deps.Host, deps.Notifier, clock, deps.Metrics, logger.Named("pause"), e.unblockAll)
	e.recovery = NewRecovery(deps.Store, e.coordinator, deps.Host, e.pause, deps.Deferred, clock, deps.Recovery, deps.Metrics, logger.Named("recovery"))
	e.schedules = NewScheduleManager(deps.Store.KV(), deps.Deferred, clock, logger.Named("schedules"))
	return e
}

// Coordinator returns the schedule coordinator.
func (e *Engine) Coordinator() *Coordinator { return e.coordinator }

// Pause returns the pause/resume controller.
func (e *Engine) Pause() *PauseController { return e.pause }

// Recovery returns the recovery coordinator.
func (e *Engine) Recovery() *Recovery { return e.recovery }

// Schedules returns the schedule manager.
func (e *Engine) Schedules() *ScheduleManager { return e.schedules }

// BlockApps starts a block of pkgs for d, replacing any current block or pause.
//
// State and triggers are persisted before the blocking service is started. A
// service that fails to start is not reported: the restart tier recovers it.
func (e *Engine) BlockApps(ctx context.Context, pkgs []string, d time.Duration, overlay domain.OverlayOptions) error {
	pkgs = domain.SortedPackages(pkgs)
	if len(pkgs) == 0 {
		return domain.ErrInvalidPackages
	}
	if d <= 0 {
		return domain.ErrInvalidDuration
	}

	ps, err := e.store.LoadPause()
	if err != nil {
		return fmt.Errorf("load pause state: %w", err)
	}
	if ps.IsPaused {
		e.logger.Info("new block replaces pending pause")
		if err := e.pause.Teardown(ctx); err != nil {
			return fmt.Errorf("discard pause: %w", err)
		}
	}

	if err := e.store.SaveOverlayOptions(overlay); err != nil {
		e.logger.Warn("failed to persist overlay options", zap.Error(err))
	}

	end := e.clock.Now().Add(d)
	if err := e.store.SaveBlock(domain.BlockState{
		IsBlocking:      true,
		BlockedPackages: pkgs,
		BlockEndTime:    end,
	}); err != nil {
		return fmt.Errorf("persist block: %w", err)
	}
	if err := e.coordinator.ScheduleUnblock(end); err != nil {
		return fmt.Errorf("register unblock triggers: %w", err)
	}

	if err := e.host.Start(ctx, domain.StartOptions{Duration: d, Overlay: overlay}); err != nil {
		e.logger.Error("failed to start blocking service", zap.Error(err))
		if err := e.recovery.ScheduleRestart(); err != nil {
			e.logger.Warn("failed to enqueue restart", zap.Error(err))
		}
	}

	e.logger.Info("block started",
		zap.Strings("packages", pkgs),
		zap.Duration("duration", d),
		zap.Time("block_end", end))
	return nil
}

// UnblockApps ends blocking.
//
// Naming a strict subset of the blocked packages removes just those and keeps the
// block running; naming none (or all) ends the block, tearing down any pending pause.
func (e *Engine) UnblockApps(ctx context.Context, pkgs []string) (bool, error) {
	pkgs = domain.SortedPackages(pkgs)
	if len(pkgs) > 0 {
		st, err := e.store.LoadBlock()
		if err != nil {
			return false, fmt.Errorf("load block state: %w", err)
		}
		if rest := without(st.BlockedPackages, pkgs); st.Active(e.clock.Now()) && len(rest) > 0 && len(rest) < len(st.BlockedPackages) {
			st.BlockedPackages = rest
			if err := e.store.SaveBlock(st); err != nil {
				return false, fmt.Errorf("persist block: %w", err)
			}
			e.logger.Info("packages unblocked", zap.Strings("packages", pkgs), zap.Strings("still_blocked", rest))
			return true, nil
		}
	}

	if err := e.unblockAll(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// unblockAll cancels triggers, drops any pause, clears state, then stops the service.
func (e *Engine) unblockAll(ctx context.Context) error {
	if err := e.coordinator.CancelUnblock(); err != nil {
		e.logger.Warn("failed to cancel unblock triggers", zap.Error(err))
	}

	ps, err := e.store.LoadPause()
	if err != nil {
		return fmt.Errorf("load pause state: %w", err)
	}
	if ps.IsPaused {
		if err := e.pause.Teardown(ctx); err != nil {
			return fmt.Errorf("discard pause: %w", err)
		}
	}

	won, err := e.store.ClaimUnblock()
	if err != nil {
		return fmt.Errorf("clear block: %w", err)
	}
	if !won {
		if err := e.store.ClearBlock(); err != nil {
			return fmt.Errorf("clear block: %w", err)
		}
	}

	if err := e.host.Stop(ctx); err != nil {
		e.logger.Warn("failed to stop blocking service", zap.Error(err))
	}
	e.logger.Info("block ended by caller")
	return nil
}

// IsOnBlockingApps reports whether a block is active right now.
func (e *Engine) IsOnBlockingApps(ctx context.Context) (bool, error) {
	return e.store.IsActive()
}

// BlockState returns the persisted block record.
func (e *Engine) BlockState() (domain.BlockState, error) {
	return e.store.LoadBlock()
}

// HandleTask dispatches a fired trigger. Every branch re-reads persisted state
// first, so redundant and out-of-order firings are harmless.
func (e *Engine) HandleTask(ctx context.Context, task domain.Task) {
	e.metrics.TriggerFired(string(task.Kind), string(task.Tier))
	logger := e.logger.With(zap.String("key", task.Key), zap.String("kind", string(task.Kind)))

	var err error
	switch task.Kind {
	case domain.TaskUnblock:
		err = e.handleUnblock(ctx)
	case domain.TaskResume:
		_, err = e.pause.ResumeTrigger(ctx, task.Payload)
	case domain.TaskRestart:
		_, err = e.recovery.Reconcile(ctx)
	case domain.TaskScheduledBlock:
		err = e.handleScheduledBlock(ctx, task)
	default:
		logger.Warn("unknown task kind")
		return
	}
	if err != nil {
		logger.Error("task failed", zap.Error(err))
	}
}

func (e *Engine) handleUnblock(ctx context.Context) error {
	st, err := e.store.LoadBlock()
	if err != nil {
		return err
	}
	if st.Active(e.clock.Now()) {
		e.logger.Debug("unblock trigger fired while block still active, ignoring",
			zap.Time("block_end", st.BlockEndTime))
		return nil
	}

	won, err := e.store.ClaimUnblock()
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := e.coordinator.CancelUnblock(); err != nil {
		e.logger.Warn("failed to cancel unblock triggers", zap.Error(err))
	}
	if err := e.host.Stop(ctx); err != nil {
		e.logger.Warn("failed to stop blocking service", zap.Error(err))
	}
	e.metrics.TerminalUnblock()
	e.logger.Info("block expired", zap.Time("block_end", st.BlockEndTime))
	return nil
}

func (e *Engine) handleScheduledBlock(ctx context.Context, task domain.Task) error {
	s, err := e.schedules.Fire(task.Payload)
	if err != nil {
		return err
	}
	if s == nil {
		e.logger.Debug("scheduled block no longer exists", zap.String("id", task.Payload))
		return nil
	}

	remaining := task.DueAt.Add(s.Duration).Sub(e.clock.Now())
	if remaining <= 0 {
		e.logger.Info("scheduled block fired after its window, skipping", zap.String("id", s.ID))
		return nil
	}
	return e.BlockApps(ctx, s.Packages, remaining, domain.OverlayOptions{})
}

// without returns pkgs minus remove.
func without(pkgs, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, p := range remove {
		drop[p] = struct{}{}
	}
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		if _, ok := drop[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Ensure Engine implements domain.TaskHandler.
var _ domain.TaskHandler = (*Engine)(nil)
