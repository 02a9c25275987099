package infra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// DefaultOverlaySweep is how often an attached overlay re-checks for the blocked app.
const DefaultOverlaySweep = time.Second

// ProcessOverlay implements domain.Overlay on desktops without a window layer:
// while attached it terminates every process of the blocked application.
type ProcessOverlay struct {
	processManager domain.ProcessManager
	sweep          time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	target *domain.OverlayTarget
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProcessOverlay creates an overlay that sweeps every interval.
func NewProcessOverlay(pm domain.ProcessManager, sweep time.Duration, logger *zap.Logger) *ProcessOverlay {
	if sweep <= 0 {
		sweep = DefaultOverlaySweep
	}
	return &ProcessOverlay{processManager: pm, sweep: sweep, logger: logger}
}

// Render attaches to target and starts terminating its processes.
// Rendering a different target replaces the current one.
func (o *ProcessOverlay) Render(ctx context.Context, target domain.OverlayTarget) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()

	t := target
	sweepCtx, cancel := context.WithCancel(context.Background())
	o.target = &t
	o.cancel = cancel
	o.done = make(chan struct{})

	o.terminate(t.PackageName)
	go o.run(sweepCtx, t.PackageName, o.done)

	o.logger.Info("overlay attached",
		zap.String("package", t.PackageName),
		zap.String("title", t.Title))
	return nil
}

// Dismiss detaches the overlay.
func (o *ProcessOverlay) Dismiss(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target != nil {
		o.logger.Info("overlay detached", zap.String("package", o.target.PackageName))
	}
	o.stopLocked()
	return nil
}

// Attached reports whether the sweep is running.
func (o *ProcessOverlay) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
		return true
	}
}

// Target returns the package currently covered, if any.
func (o *ProcessOverlay) Target() (domain.OverlayTarget, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target == nil {
		return domain.OverlayTarget{}, false
	}
	return *o.target, true
}

func (o *ProcessOverlay) stopLocked() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
	o.cancel = nil
	o.done = nil
	o.target = nil
}

func (o *ProcessOverlay) run(ctx context.Context, pkg string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.terminate(pkg)
		}
	}
}

func (o *ProcessOverlay) terminate(pkg string) {
	pids, err := o.processManager.FindByName(pkg)
	if err != nil {
		o.logger.Warn("failed to find processes", zap.String("package", pkg), zap.Error(err))
		return
	}
	for _, pid := range pids {
		if err := o.processManager.Terminate(pid); err != nil {
			o.logger.Warn("failed to terminate process", zap.Int("pid", pid), zap.Error(err))
			continue
		}
		o.logger.Info("terminated blocked app", zap.String("package", pkg), zap.Int("pid", pid))
	}
}

// Ensure ProcessOverlay implements domain.Overlay.
var _ domain.Overlay = (*ProcessOverlay)(nil)
