// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"sort"
	"time"
)

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	// RoleBlocker hosts the blocking loop while a block is active.
	RoleBlocker DaemonRole = "blocker"
	// RoleMonitor runs persisted tasks and restarts the blocker if it dies.
	RoleMonitor DaemonRole = "monitor"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry stores the state of both daemons for mutual discovery.
type RegistryEntry struct {
	BlockerPID    int    `json:"blocker_pid"`
	MonitorPID    int    `json:"monitor_pid"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}

// BlockState is the persisted record of the current block.
// IsBlocking implies a non-empty package set and an end time that was
// in the future when the record was written; readers must re-check expiry.
type BlockState struct {
	IsBlocking      bool
	BlockedPackages []string
	BlockEndTime    time.Time
}

// Active reports whether the block is still in force at now.
func (s BlockState) Active(now time.Time) bool {
	return s.IsBlocking && len(s.BlockedPackages) > 0 && now.Before(s.BlockEndTime)
}

// Stale reports whether the record claims blocking but its deadline has passed.
func (s BlockState) Stale(now time.Time) bool {
	return s.IsBlocking && !now.Before(s.BlockEndTime)
}

// Remaining returns the time left until the block ends, never negative.
func (s BlockState) Remaining(now time.Time) time.Duration {
	d := s.BlockEndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Blocks reports whether pkg is part of the blocked set.
func (s BlockState) Blocks(pkg string) bool {
	for _, p := range s.BlockedPackages {
		if p == pkg {
			return true
		}
	}
	return false
}

// PauseState is the persisted overlay recording a suspended block.
// IsPaused implies BlockState.IsBlocking is false and RemainingBlockTime > 0.
type PauseState struct {
	IsPaused           bool
	PausedPackages     []string
	RemainingBlockTime time.Duration
	PauseEndTime       time.Time
}

// Expired reports whether the resume deadline has passed.
func (p PauseState) Expired(now time.Time) bool {
	return !now.Before(p.PauseEndTime)
}

// BlockSchedule is a caller-defined future (optionally recurring) block.
type BlockSchedule struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Packages    []string       `json:"packages" yaml:"packages" validate:"required,min=1,dive,required"`
	StartTime   time.Time      `json:"startTime" yaml:"startTime" validate:"required"`
	Duration    time.Duration  `json:"duration" yaml:"duration" validate:"gt=0"`
	IsRecurring bool           `json:"isRecurring" yaml:"isRecurring"`
	DaysOfWeek  []time.Weekday `json:"daysOfWeek,omitempty" yaml:"daysOfWeek,omitempty" validate:"dive,min=0,max=6"`
	IsEnabled   bool           `json:"isEnabled" yaml:"isEnabled"`
}

// RunsOn reports whether a recurring schedule fires on the given weekday.
// An empty day set means every day.
func (s BlockSchedule) RunsOn(day time.Weekday) bool {
	if len(s.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range s.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// NextOccurrence returns the first start time at or after now.
// Non-recurring schedules return StartTime and false if it has passed.
func (s BlockSchedule) NextOccurrence(now time.Time) (time.Time, bool) {
	if !s.StartTime.Before(now) {
		return s.StartTime, true
	}
	if !s.IsRecurring {
		return time.Time{}, false
	}

	// Same wall-clock time of day, walking forward day by day.
	h, m, sec := s.StartTime.Clock()
	loc := s.StartTime.Location()
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), h, m, sec, s.StartTime.Nanosecond(), loc)
	for i := 0; i < 8; i++ {
		if !candidate.Before(now) && s.RunsOn(candidate.Weekday()) {
			return candidate, true
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// ForegroundAppSample is produced per poll by the foreground app detector.
type ForegroundAppSample struct {
	PackageName  string        `json:"packageName"`
	LastTimeUsed time.Time     `json:"lastTimeUsed"`
	UsageTime    time.Duration `json:"usageTime"`
	TimeAgo      time.Duration `json:"timeAgo"`
}

// UsageEventType classifies an entry of the OS event stream.
type UsageEventType string

const (
	EventMoveToForeground UsageEventType = "foreground"
	EventMoveToBackground UsageEventType = "background"
)

// UsageEvent is one entry of the OS usage event stream.
type UsageEvent struct {
	PackageName string         `json:"package"`
	Type        UsageEventType `json:"type"`
	Time        time.Time      `json:"time"`
}

// UsageInterval is the aggregation granularity of a usage-stats query.
type UsageInterval string

const (
	IntervalDaily   UsageInterval = "daily"
	IntervalWeekly  UsageInterval = "weekly"
	IntervalMonthly UsageInterval = "monthly"
	IntervalYearly  UsageInterval = "yearly"
	IntervalBest    UsageInterval = "best"
)

// ParseUsageInterval maps a caller-supplied name to an interval, defaulting to daily.
func ParseUsageInterval(s string) UsageInterval {
	switch UsageInterval(s) {
	case IntervalWeekly, IntervalMonthly, IntervalYearly, IntervalBest:
		return UsageInterval(s)
	default:
		return IntervalDaily
	}
}

// UsageStat is the per-package aggregate returned by a usage-stats query.
type UsageStat struct {
	PackageName    string
	FirstTimeStamp time.Time
	LastTimeStamp  time.Time
	LastTimeUsed   time.Time
	TotalTime      time.Duration
}

// UsageRecord is a usage stat enriched with app metadata for callers.
type UsageRecord struct {
	AppName      string        `json:"appName"`
	PackageName  string        `json:"packageName"`
	Category     string        `json:"category,omitempty"`
	FirstTime    time.Time     `json:"firstTime"`
	LastTime     time.Time     `json:"lastTime"`
	LastTimeUsed time.Time     `json:"lastTimeUsed"`
	UsageTime    time.Duration `json:"usageTime"`
}

// AppInfo describes an installed application.
type AppInfo struct {
	Name     string `json:"appName"`
	Package  string `json:"packageName"`
	Enabled  bool   `json:"enabled"`
	Category string `json:"category,omitempty"`
	Version  string `json:"versionName,omitempty"`
	Icon     string `json:"appIcon,omitempty"`
	System   bool   `json:"-"`
}

// PermissionKind names an OS grant the plugin depends on.
type PermissionKind string

const (
	PermissionAppUsage      PermissionKind = "appUsage"
	PermissionDrawOverlay   PermissionKind = "drawOverlay"
	PermissionAccessibility PermissionKind = "accessibilitySettings"
	PermissionNotification  PermissionKind = "notification"
)

// PermissionStatus is the caller-visible state of a grant.
type PermissionStatus string

const (
	PermissionApproved      PermissionStatus = "approved"
	PermissionDenied        PermissionStatus = "denied"
	PermissionNotDetermined PermissionStatus = "notDetermined"
)

// OverlayTarget carries what the overlay needs to render for a blocked app.
type OverlayTarget struct {
	PackageName string
	Layout      string
	Title       string
	Text        string
}

// OverlayOptions is the caller customisation supplied at block start.
type OverlayOptions struct {
	Layout            string `json:"layout,omitempty"`
	NotificationTitle string `json:"notificationTitle,omitempty"`
	NotificationText  string `json:"notificationText,omitempty"`
}

// StartOptions is passed to the hosting service when (re)starting the blocking loop.
// Zero Packages means "load from persisted state".
type StartOptions struct {
	Packages []string
	Duration time.Duration
	Resuming bool
	Overlay  OverlayOptions
}

// PauseNotice describes the persistent notification shown while paused.
type PauseNotice struct {
	Title          string
	Text           string
	PauseEndTime   time.Time
	Remaining      time.Duration
	PackagesPaused int
}

// TaskKind identifies what a deferred trigger does when it fires.
type TaskKind string

const (
	TaskUnblock        TaskKind = "unblock"
	TaskResume         TaskKind = "resume"
	TaskRestart        TaskKind = "restart"
	TaskScheduledBlock TaskKind = "scheduled_block"
)

// TaskTier records which redundancy mechanism registered a task.
type TaskTier string

const (
	TierExact    TaskTier = "exact"
	TierBackup   TaskTier = "backup"
	TierDeferred TaskTier = "deferred"
)

// Task is a keyed one-shot trigger. Registering a task with an existing key replaces it.
type Task struct {
	Key     string    `json:"key"`
	Kind    TaskKind  `json:"kind"`
	Tier    TaskTier  `json:"tier"`
	DueAt   time.Time `json:"due_at"`
	Payload string    `json:"payload,omitempty"`
}

// SortedPackages returns a sorted copy of pkgs with duplicates removed.
func SortedPackages(pkgs []string) []string {
	seen := make(map[string]struct{}, len(pkgs))
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
