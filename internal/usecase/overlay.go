package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/metrics"
)

// OverlayController makes show/hide idempotent on top of a caller-supplied overlay.
type OverlayController struct {
	overlay domain.Overlay
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	shown  bool
	target domain.OverlayTarget
}

// NewOverlayController wraps overlay.
func NewOverlayController(overlay domain.Overlay, m *metrics.Metrics, logger *zap.Logger) *OverlayController {
	return &OverlayController{overlay: overlay, metrics: m, logger: logger}
}

// Show attaches the overlay for target.
// Showing the same package while attached is a no-op. A zombie (shown but
// detached) or a different target is dismissed before rendering again.
func (c *OverlayController) Show(ctx context.Context, target domain.OverlayTarget) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	attached := c.overlay.Attached()
	if c.shown && attached && c.target.PackageName == target.PackageName {
		return nil
	}

	if c.shown || attached {
		if !attached {
			c.logger.Info("re-attaching zombie overlay", zap.String("package", c.target.PackageName))
		}
		if err := c.overlay.Dismiss(ctx); err != nil {
			c.logger.Warn("failed to dismiss stale overlay", zap.Error(err))
		}
		c.shown = false
	}

	if err := c.overlay.Render(ctx, target); err != nil {
		return fmt.Errorf("render overlay for %s: %w", target.PackageName, err)
	}
	c.shown = true
	c.target = target
	c.metrics.OverlayShown()
	c.logger.Info("overlay shown", zap.String("package", target.PackageName))
	return nil
}

// Hide detaches the overlay. Hiding an already hidden overlay is a no-op.
func (c *OverlayController) Hide(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shown && !c.overlay.Attached() {
		return nil
	}
	if err := c.overlay.Dismiss(ctx); err != nil {
		return fmt.Errorf("dismiss overlay: %w", err)
	}
	c.shown = false
	c.target = domain.OverlayTarget{}
	c.metrics.OverlayHidden()
	c.logger.Info("overlay hidden")
	return nil
}

// Shown reports whether the controller believes the overlay is up.
func (c *OverlayController) Shown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}
