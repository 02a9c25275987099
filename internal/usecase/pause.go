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

// Default texts of the "paused" notification.
const (
	DefaultPauseTitle = "App blocking paused"
	pauseTextFormat   = "%d apps will be blocked again for %s"
)

// PauseOptions customises the notification shown while paused.
type PauseOptions struct {
	ShowNotification  bool
	NotificationTitle string
	NotificationText  string
}

// PauseController implements the Active -> Paused -> Active state machine.
type PauseController struct {
	store       *state.Store
	coordinator *Coordinator
	host        domain.ServiceHost
	notifier    domain.Notifier
	clock       domain.Clock
	metrics     *metrics.Metrics
	logger      *zap.Logger

	// unblock ends the block outright; used when nothing is left to pause.
	unblock func(ctx context.Context) error
}

// NewPauseController creates a pause controller. unblock performs a full unblock.
func NewPauseController(
	store *state.Store,
	coordinator *Coordinator,
	host domain.ServiceHost,
	notifier domain.Notifier,
	clock domain.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
	unblock func(ctx context.Context) error,
) *PauseController {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &PauseController{
		store:       store,
		coordinator: coordinator,
		host:        host,
		notifier:    notifier,
		clock:       clock,
		metrics:     m,
		logger:      logger,
		unblock:     unblock,
	}
}

// Pause suspends the active block for d and registers the resume triggers.
//
// Returns domain.ErrNotBlocking without touching state when no block is active.
// If the block has no time left it is ended instead and Pause reports false.
func (p *PauseController) Pause(ctx context.Context, d time.Duration, opts PauseOptions) (bool, error) {
	if d <= 0 {
		return false, domain.ErrInvalidDuration
	}

	st, err := p.store.LoadBlock()
	if err != nil {
		return false, fmt.Errorf("load block state: %w", err)
	}
	if !st.IsBlocking || len(st.BlockedPackages) == 0 {
		return false, domain.ErrNotBlocking
	}

	now := p.clock.Now()
	remaining := st.BlockEndTime.Sub(now)
	if remaining <= 0 {
		p.logger.Info("nothing left to pause, unblocking")
		if err := p.unblock(ctx); err != nil {
			return false, err
		}
		return false, nil
	}

	pauseEnd := now.Add(d)
	ps := domain.PauseState{
		IsPaused:           true,
		PausedPackages:     st.BlockedPackages,
		RemainingBlockTime: remaining,
		PauseEndTime:       pauseEnd,
	}
	if err := p.store.SavePause(ps); err != nil {
		return false, fmt.Errorf("persist pause: %w", err)
	}

	if err := p.coordinator.CancelUnblock(); err != nil {
		p.logger.Warn("failed to cancel unblock triggers", zap.Error(err))
	}
	if err := p.host.Stop(ctx); err != nil {
		p.logger.Warn("failed to stop blocking service", zap.Error(err))
	}

	if opts.ShowNotification {
		notice := p.notice(opts, ps)
		if err := p.notifier.ShowPaused(ctx, notice); err != nil {
			p.logger.Warn("failed to show pause notification", zap.Error(err))
		}
	}

	if err := p.coordinator.ScheduleResume(pauseEnd); err != nil {
		return true, fmt.Errorf("register resume triggers: %w", err)
	}

	p.logger.Info("block paused",
		zap.Duration("pause", d),
		zap.Duration("remaining", remaining),
		zap.Int("packages", len(ps.PausedPackages)))
	return true, nil
}

func (p *PauseController) notice(opts PauseOptions, ps domain.PauseState) domain.PauseNotice {
	title := opts.NotificationTitle
	if title == "" {
		title = DefaultPauseTitle
	}
	text := opts.NotificationText
	if text == "" {
		text = fmt.Sprintf(pauseTextFormat, len(ps.PausedPackages), HumanDuration(ps.RemainingBlockTime))
	}
	return domain.PauseNotice{
		Title:          title,
		Text:           text,
		PauseEndTime:   ps.PauseEndTime,
		Remaining:      ps.RemainingBlockTime,
		PackagesPaused: len(ps.PausedPackages),
	}
}

// Resume is the body of the resume task. It restores the paused block with its
// remaining time and restarts the blocking loop in resuming mode.
// Only the caller that claims the pause acts; repeated firings report false.
func (p *PauseController) Resume(ctx context.Context) (bool, error) {
	ps, err := p.store.LoadPause()
	if err != nil {
		return false, fmt.Errorf("load pause state: %w", err)
	}
	if !ps.IsPaused {
		return false, nil
	}

	end := p.clock.Now().Add(ps.RemainingBlockTime)
	won, err := p.store.ClaimResume(domain.BlockState{
		IsBlocking:      true,
		BlockedPackages: ps.PausedPackages,
		BlockEndTime:    end,
	})
	if err != nil {
		return false, fmt.Errorf("claim resume: %w", err)
	}
	if !won {
		return false, nil
	}

	if err := p.host.Stop(ctx); err != nil {
		p.logger.Warn("failed to stop lingering blocking service", zap.Error(err))
	}

	if err := p.store.ClearPause(); err != nil {
		p.logger.Warn("failed to clear pause state", zap.Error(err))
	}
	if err := p.notifier.DismissPaused(ctx); err != nil {
		p.logger.Warn("failed to dismiss pause notification", zap.Error(err))
	}
	if err := p.coordinator.CancelResume(); err != nil {
		p.logger.Warn("failed to cancel resume triggers", zap.Error(err))
	}
	if err := p.coordinator.ScheduleUnblock(end); err != nil {
		p.logger.Warn("failed to register unblock triggers", zap.Error(err))
	}
	if err := p.host.Start(ctx, domain.StartOptions{Resuming: true}); err != nil {
		// The monitor's restart tier picks the block up again.
		p.logger.Error("failed to restart blocking service", zap.Error(err))
	}

	p.metrics.Resumed()
	p.logger.Info("block resumed",
		zap.Strings("packages", ps.PausedPackages),
		zap.Time("block_end", end))
	return true, nil
}

// IsPaused reports whether a pause is pending.
// An expired pause whose resume task has not run yet is resumed on the spot
// and reads as not paused. This differs on purpose from only clearing the
// pause record, which would silently drop the rest of the block.
func (p *PauseController) IsPaused(ctx context.Context) (bool, error) {
	ps, err := p.store.LoadPause()
	if err != nil {
		return false, fmt.Errorf("load pause state: %w", err)
	}
	if !ps.IsPaused {
		return false, nil
	}

	active, err := p.store.IsActive()
	if err != nil {
		return false, err
	}
	if active && p.host.IsRunning() {
		return false, nil
	}

	if ps.Expired(p.clock.Now()) {
		p.logger.Info("pause outlived its deadline, resuming")
		if _, err := p.Resume(ctx); err != nil {
			p.logger.Warn("self-heal resume failed", zap.Error(err))
		}
		return false, nil
	}
	return true, nil
}

// Teardown discards a pending pause: triggers, notification and persisted state.
func (p *PauseController) Teardown(ctx context.Context) error {
	if err := p.coordinator.CancelResume(); err != nil {
		p.logger.Warn("failed to cancel resume triggers", zap.Error(err))
	}
	if err := p.notifier.DismissPaused(ctx); err != nil {
		p.logger.Warn("failed to dismiss pause notification", zap.Error(err))
	}
	return p.store.ClearPause()
}

// ResumeTrigger is the body of a fired resume task. token is the pause end the
// trigger was registered for; a trigger left over from an earlier pause is ignored.
func (p *PauseController) ResumeTrigger(ctx context.Context, token string) (bool, error) {
	if token != "" {
		ps, err := p.store.LoadPause()
		if err != nil {
			return false, fmt.Errorf("load pause state: %w", err)
		}
		if ps.IsPaused && token != triggerToken(ps.PauseEndTime) {
			p.logger.Info("ignoring resume trigger of an earlier pause", zap.String("token", token))
			return false, nil
		}
	}
	return p.Resume(ctx)
}

// State returns the persisted pause record.
func (p *PauseController) State() (domain.PauseState, error) {
	return p.store.LoadPause()
}
