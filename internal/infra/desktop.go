package infra

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// DesktopDevice implements domain.DeviceState. Desktop sessions have no
// keyguard the daemon can observe, so the device never reports locked.
type DesktopDevice struct{}

// IsLocked always returns false.
func (DesktopDevice) IsLocked(ctx context.Context) (bool, error) {
	return false, nil
}

// DesktopPermissions implements domain.PermissionChecker for the desktop adapters.
// The overlay needs no grant; usage access depends on the journal being readable.
type DesktopPermissions struct {
	journal *UsageJournal
	logger  *zap.Logger
}

// NewDesktopPermissions creates a checker backed by journal.
func NewDesktopPermissions(journal *UsageJournal, logger *zap.Logger) *DesktopPermissions {
	return &DesktopPermissions{journal: journal, logger: logger}
}

// Status returns the grant state for kind.
func (p *DesktopPermissions) Status(ctx context.Context, kind domain.PermissionKind) domain.PermissionStatus {
	switch kind {
	case domain.PermissionAppUsage:
		if p.journal.Readable() {
			return domain.PermissionApproved
		}
		return domain.PermissionDenied
	case domain.PermissionDrawOverlay, domain.PermissionNotification:
		return domain.PermissionApproved
	default:
		return domain.PermissionNotDetermined
	}
}

// Request "grants" usage access by creating an empty journal the platform binding
// will append to. Other kinds need no action.
func (p *DesktopPermissions) Request(ctx context.Context, kind domain.PermissionKind) (bool, error) {
	switch kind {
	case domain.PermissionAppUsage:
		if p.journal.Readable() {
			return true, nil
		}
		if err := p.journal.touch(); err != nil {
			return false, err
		}
		p.logger.Info("usage journal created", zap.String("path", p.journal.Path()))
		return true, nil
	case domain.PermissionDrawOverlay, domain.PermissionNotification:
		return true, nil
	default:
		return false, nil
	}
}

// LogNotifier implements domain.Notifier by logging.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier writing to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// ShowPaused logs the paused notice.
func (n *LogNotifier) ShowPaused(ctx context.Context, notice domain.PauseNotice) error {
	n.logger.Info("blocking paused",
		zap.String("title", notice.Title),
		zap.String("text", notice.Text),
		zap.Time("resume_at", notice.PauseEndTime),
		zap.Duration("remaining", notice.Remaining.Round(time.Second)),
		zap.Int("packages", notice.PackagesPaused))
	return nil
}

// DismissPaused logs the dismissal.
func (n *LogNotifier) DismissPaused(ctx context.Context) error {
	n.logger.Info("paused notice dismissed")
	return nil
}

// Ensure desktop adapters implement domain interfaces.
var (
	_ domain.DeviceState       = DesktopDevice{}
	_ domain.PermissionChecker = (*DesktopPermissions)(nil)
	_ domain.Notifier          = (*LogNotifier)(nil)
)
