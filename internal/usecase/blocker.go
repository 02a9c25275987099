package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/metrics"
	"github.com/eliteGoblin/focusd/screentime/internal/state"
)

// BlockerPhase is the lifecycle phase of one blocking run.
type BlockerPhase string

const (
	PhaseIdle    BlockerPhase = "idle"
	PhasePolling BlockerPhase = "polling"
	PhaseStopped BlockerPhase = "stopped"
)

// requiredPermissions are the grants whose loss ends the block.
var requiredPermissions = []domain.PermissionKind{
	domain.PermissionAppUsage,
	domain.PermissionDrawOverlay,
}

// BlockerConfig holds blocking loop timing.
type BlockerConfig struct {
	TickInterval          time.Duration // Poll period (default 1s)
	FreshnessWindow       time.Duration // Max time since the last confirmed detection that still shows the overlay (default 30s)
	LongIdleThreshold     time.Duration // Hide after this long without any detection (default 60s)
	RetryDelay            time.Duration // Delay after a transient poll error (default 1s)
	DetectionWindow       time.Duration // Detector query window (default 30s)
	ResumeDetectionWindow time.Duration // Query window of the first poll after resume (default 2m)
}

// DefaultBlockerConfig returns default blocking loop configuration.
func DefaultBlockerConfig() BlockerConfig {
	return BlockerConfig{
		TickInterval:          time.Second,
		FreshnessWindow:       30 * time.Second,
		LongIdleThreshold:     60 * time.Second,
		RetryDelay:            time.Second,
		DetectionWindow:       30 * time.Second,
		ResumeDetectionWindow: 2 * time.Minute,
	}
}

// Blocker is the polling loop that enforces an active block.
// Run owns one block from start to expiry; the hosting service calls it and
// releases its process when Run returns.
type Blocker struct {
	store       *state.Store
	detector    *Detector
	overlay     *OverlayController
	device      domain.DeviceState
	permissions domain.PermissionChecker
	coordinator *Coordinator
	clock       domain.Clock
	config      BlockerConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu    sync.Mutex
	phase BlockerPhase
}

// NewBlocker creates a blocking loop.
func NewBlocker(
	store *state.Store,
	detector *Detector,
	overlay *OverlayController,
	device domain.DeviceState,
	permissions domain.PermissionChecker,
	coordinator *Coordinator,
	clock domain.Clock,
	config BlockerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Blocker {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Blocker{
		store:       store,
		detector:    detector,
		overlay:     overlay,
		device:      device,
		permissions: permissions,
		coordinator: coordinator,
		clock:       clock,
		config:      config,
		metrics:     m,
		logger:      logger,
		phase:       PhaseIdle,
	}
}

// Phase returns the current lifecycle phase.
func (b *Blocker) Phase() BlockerPhase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *Blocker) setPhase(p BlockerPhase) {
	b.mu.Lock()
	b.phase = p
	b.mu.Unlock()
}

// observation is what one poll reports back to the controller goroutine.
type observation struct {
	at       time.Time
	sample   *domain.ForegroundAppSample
	locked   bool
	permLost domain.PermissionKind
	err      error
}

// Run enforces the block until it expires, is cleared externally, or ctx is cancelled.
//
// With explicit packages the block is persisted first; without them the persisted
// BlockState is loaded. Cancellation is a planned shutdown and leaves state untouched.
// Losing a required permission ends the block and returns domain.ErrPermissionDenied.
func (b *Blocker) Run(ctx context.Context, opts domain.StartOptions) error {
	if len(opts.Packages) > 0 {
		if err := b.persistExplicit(opts); err != nil {
			return err
		}
	}

	st, err := b.store.LoadBlock()
	if err != nil {
		return fmt.Errorf("load block state: %w", err)
	}
	now := b.clock.Now()
	if !st.Active(now) {
		if st.IsBlocking {
			b.logger.Info("persisted block already expired, clearing")
			b.stop(ctx, "expired")
		}
		b.setPhase(PhaseStopped)
		return nil
	}

	overlayOpts := opts.Overlay
	if overlayOpts == (domain.OverlayOptions{}) {
		if overlayOpts, err = b.store.LoadOverlayOptions(); err != nil {
			b.logger.Warn("failed to load overlay options", zap.Error(err))
		}
	}

	b.setPhase(PhasePolling)
	b.logger.Info("blocking loop started",
		zap.Strings("packages", st.BlockedPackages),
		zap.Time("block_end", st.BlockEndTime),
		zap.Bool("resuming", opts.Resuming))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	observations := make(chan observation)
	g.Go(func() error {
		return b.poll(gctx, opts.Resuming, observations)
	})

	loop := &blockerLoop{Blocker: b, state: st, overlayOpts: overlayOpts}
	var result error
	for done := false; !done; {
		select {
		case <-gctx.Done():
			done = true
		case obs := <-observations:
			done, result = loop.handle(ctx, obs)
		}
	}
	cancel()
	_ = g.Wait()

	// Leave no overlay behind, whatever ended the loop.
	if err := b.overlay.Hide(context.WithoutCancel(ctx)); err != nil {
		b.logger.Warn("failed to hide overlay on exit", zap.Error(err))
	}
	b.setPhase(PhaseStopped)
	b.logger.Info("blocking loop exited", zap.Error(result))
	return result
}

func (b *Blocker) persistExplicit(opts domain.StartOptions) error {
	if opts.Duration <= 0 {
		return domain.ErrInvalidDuration
	}
	end := b.clock.Now().Add(opts.Duration)
	st := domain.BlockState{
		IsBlocking:      true,
		BlockedPackages: domain.SortedPackages(opts.Packages),
		BlockEndTime:    end,
	}
	if err := b.store.SaveBlock(st); err != nil {
		return fmt.Errorf("persist block: %w", err)
	}
	if opts.Overlay != (domain.OverlayOptions{}) {
		if err := b.store.SaveOverlayOptions(opts.Overlay); err != nil {
			b.logger.Warn("failed to persist overlay options", zap.Error(err))
		}
	}
	if b.coordinator != nil {
		if err := b.coordinator.ScheduleUnblock(end); err != nil {
			b.logger.Warn("failed to register unblock triggers", zap.Error(err))
		}
	}
	return nil
}

// poll runs off the controller goroutine and feeds it one observation per tick.
func (b *Blocker) poll(ctx context.Context, resuming bool, out chan<- observation) error {
	widened := resuming
	for {
		obs := b.observe(ctx, widened)
		widened = false

		select {
		case out <- obs:
		case <-ctx.Done():
			return nil
		}

		delay := b.config.TickInterval
		if obs.err != nil {
			delay = b.config.RetryDelay
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (b *Blocker) observe(ctx context.Context, widened bool) (obs observation) {
	obs.at = b.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			obs.sample = nil
			obs.err = fmt.Errorf("poll panicked: %v", r)
		}
	}()

	for _, kind := range requiredPermissions {
		if b.permissions.Status(ctx, kind) != domain.PermissionApproved {
			obs.permLost = kind
			return obs
		}
	}

	window := b.config.DetectionWindow
	if widened {
		window = b.config.ResumeDetectionWindow
	}
	obs.sample = b.detector.Detect(ctx, window, widened)

	locked, err := b.device.IsLocked(ctx)
	if err != nil {
		obs.err = fmt.Errorf("read lock state: %w", err)
		return obs
	}
	obs.locked = locked
	return obs
}

// blockerLoop is the controller-side state of one run.
type blockerLoop struct {
	*Blocker
	state         domain.BlockState
	overlayOpts   domain.OverlayOptions
	lastConfirmed time.Time
}

// handle applies one observation. It reports whether the run is over.
func (l *blockerLoop) handle(ctx context.Context, obs observation) (bool, error) {
	st, err := l.store.LoadBlock()
	if err != nil {
		l.metrics.PollError()
		l.logger.Warn("failed to re-read block state", zap.Error(err))
		return false, nil
	}

	now := l.clock.Now()
	switch {
	case !st.IsBlocking:
		// Cleared or paused by someone else; they own the state.
		l.logger.Info("block no longer persisted, leaving loop")
		return true, nil
	case !st.Active(now):
		l.stop(ctx, "expired")
		return true, nil
	}
	l.state = st

	if obs.permLost != "" {
		l.logger.Error("required permission lost, ending block", zap.String("permission", string(obs.permLost)))
		l.stop(ctx, "permission_lost")
		return true, fmt.Errorf("%w: %s", domain.ErrPermissionDenied, obs.permLost)
	}
	if obs.err != nil {
		l.metrics.PollError()
		l.logger.Warn("poll failed, retrying", zap.Error(obs.err))
		return false, nil
	}

	l.apply(ctx, obs, now)
	return false, nil
}

func (l *blockerLoop) apply(ctx context.Context, obs observation, now time.Time) {
	if obs.sample != nil {
		l.lastConfirmed = obs.at
	}

	if obs.locked {
		l.hide(ctx)
		return
	}

	if obs.sample == nil {
		if l.lastConfirmed.IsZero() || now.Sub(l.lastConfirmed) > l.config.LongIdleThreshold {
			l.hide(ctx)
		}
		return
	}

	// Freshness counts from the poll that confirmed the sample, not from the event time.
	if l.state.Blocks(obs.sample.PackageName) && now.Sub(l.lastConfirmed) < l.config.FreshnessWindow {
		target := domain.OverlayTarget{
			PackageName: obs.sample.PackageName,
			Layout:      l.overlayOpts.Layout,
			Title:       l.overlayOpts.NotificationTitle,
			Text:        l.overlayOpts.NotificationText,
		}
		if err := l.overlay.Show(ctx, target); err != nil {
			l.logger.Warn("failed to show overlay", zap.Error(err))
		}
		return
	}
	l.hide(ctx)
}

func (l *blockerLoop) hide(ctx context.Context) {
	if err := l.overlay.Hide(ctx); err != nil {
		l.logger.Warn("failed to hide overlay", zap.Error(err))
	}
}

// stop performs the Stopped entry actions. Persisted state is cleared before the
// caller returns and the host releases the process.
func (b *Blocker) stop(ctx context.Context, reason string) {
	ctx = context.WithoutCancel(ctx)
	if err := b.overlay.Hide(ctx); err != nil {
		b.logger.Warn("failed to hide overlay", zap.Error(err))
	}

	won, err := b.store.ClaimUnblock()
	if err != nil {
		b.logger.Error("failed to clear block state", zap.Error(err))
	}
	if won {
		b.metrics.TerminalUnblock()
	}
	if b.coordinator != nil {
		if err := b.coordinator.CancelUnblock(); err != nil {
			b.logger.Warn("failed to cancel unblock triggers", zap.Error(err))
		}
	}
	b.logger.Info("block stopped", zap.String("reason", reason), zap.Bool("claimed", won))
}
