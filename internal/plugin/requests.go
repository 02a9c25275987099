package plugin

import (
	"time"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// Result is the caller-visible outcome of every operation. Status reports
// whether the call succeeded; Data carries the answer.
type Result struct {
	Status bool   `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// InstalledAppsRequest lists installed applications.
type InstalledAppsRequest struct {
	IgnoreSystemApps bool `json:"ignoreSystemApps"`
}

// PermissionRequest names a grant.
type PermissionRequest struct {
	Kind domain.PermissionKind `json:"permissionType" validate:"required,oneof=appUsage drawOverlay accessibilitySettings notification"`
}

// UsageRequest queries aggregated usage. Nil bounds default to the last 24 hours.
type UsageRequest struct {
	Start    *time.Time           `json:"startTime,omitempty"`
	End      *time.Time           `json:"endTime,omitempty"`
	Interval domain.UsageInterval `json:"interval,omitempty" validate:"omitempty,oneof=daily weekly monthly yearly best"`
	Packages []string             `json:"packagesName,omitempty" validate:"omitempty,dive,required"`
}

// BlockRequest starts a block.
type BlockRequest struct {
	Packages          []string      `json:"packagesName" validate:"required,min=1,dive,required"`
	Duration          time.Duration `json:"duration" validate:"gt=0"`
	Layout            string        `json:"layoutName,omitempty"`
	NotificationTitle string        `json:"notificationTitle,omitempty"`
	NotificationText  string        `json:"notificationText,omitempty"`
}

// ScheduleRequest registers a future block. An empty ID is generated.
type ScheduleRequest struct {
	ID         string         `json:"scheduleId,omitempty"`
	Packages   []string       `json:"packagesName" validate:"required,min=1,dive,required"`
	StartTime  time.Time      `json:"startTime" validate:"required"`
	Duration   time.Duration  `json:"duration" validate:"gt=0"`
	Recurring  bool           `json:"recurring"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty" validate:"omitempty,dive,min=0,max=6"`
	Disabled   bool           `json:"disabled,omitempty"`
}

// CancelScheduleRequest removes a schedule.
type CancelScheduleRequest struct {
	ID string `json:"scheduleId" validate:"required"`
}

// UnblockRequest ends a block, or removes some packages from it.
type UnblockRequest struct {
	Packages []string `json:"packagesName,omitempty"`
}

// PauseRequest suspends the active block. ShowNotification defaults to true.
type PauseRequest struct {
	Duration          time.Duration `json:"pauseDuration" validate:"gt=0"`
	NotificationTitle string        `json:"notificationTitle,omitempty"`
	NotificationText  string        `json:"notificationText,omitempty"`
	ShowNotification  *bool         `json:"showNotification,omitempty"`
}

// MonitoringRequest describes the daily monitoring window and sampling policy.
type MonitoringRequest struct {
	StartHour   int                  `json:"startHour" validate:"min=0,max=23"`
	StartMinute int                  `json:"startMinute" validate:"min=0,max=59"`
	EndHour     int                  `json:"endHour" validate:"min=0,max=23"`
	EndMinute   int                  `json:"endMinute" validate:"min=0,max=59"`
	Interval    domain.UsageInterval `json:"interval,omitempty" validate:"omitempty,oneof=daily weekly monthly yearly best"`
	Lookback    time.Duration        `json:"lookbackTimeMs,omitempty" validate:"gte=0"`
	Packages    []string             `json:"packagesName,omitempty"`
}

// MonitorConfigRequest reconfigures the monitoring stream.
type MonitorConfigRequest struct {
	Interval domain.UsageInterval `json:"interval" validate:"required,oneof=daily weekly monthly yearly best"`
	Lookback time.Duration        `json:"lookbackTimeMs" validate:"gt=0"`
}

// StreamRequest opens the foreground-app-changed stream. Zero values keep the
// monitor's current settings.
type StreamRequest struct {
	Interval domain.UsageInterval `json:"interval,omitempty" validate:"omitempty,oneof=daily weekly monthly yearly best"`
	Lookback time.Duration        `json:"lookbackTimeMs,omitempty" validate:"gte=0"`
}

// MonitoringData is returned by MonitoringAppUsage.
type MonitoringData struct {
	StartTime string                      `json:"startTime"`
	EndTime   string                      `json:"endTime"`
	Frequency domain.UsageInterval        `json:"frequency"`
	InWindow  bool                        `json:"inWindow"`
	Current   *domain.ForegroundAppSample `json:"currentForegroundApp,omitempty"`
}

// ScheduleResult is returned by ScheduleBlock.
type ScheduleResult struct {
	ID     string `json:"scheduleId"`
	Active bool   `json:"active"`
}

// PauseStatus is returned by IsBlockingPaused.
type PauseStatus struct {
	Paused             bool          `json:"isPaused"`
	PauseEndTime       time.Time     `json:"pauseEndTime,omitempty"`
	RemainingPauseTime time.Duration `json:"remainingPauseTime,omitempty"`
	RemainingBlockTime time.Duration `json:"remainingBlockTime,omitempty"`
	PausedPackages     []string      `json:"pausedPackages,omitempty"`
}
