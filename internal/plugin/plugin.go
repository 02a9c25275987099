// Package plugin is the request/response surface of screentime. It validates
// caller input, calls into the usecase layer and converts errors into Results.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

// DefaultUsageRange is how far back AppUsageData looks without explicit bounds.
const DefaultUsageRange = 24 * time.Hour

// Deps wires a Plugin.
type Deps struct {
	Engine      *usecase.Engine
	Monitor     *usecase.AppMonitor
	Catalog     domain.AppCatalog
	Permissions domain.PermissionChecker
	Usage       domain.UsageStatsProvider
	Clock       domain.Clock
	Logger      *zap.Logger
}

// Plugin exposes the named operations.
type Plugin struct {
	engine      *usecase.Engine
	monitor     *usecase.AppMonitor
	catalog     domain.AppCatalog
	permissions domain.PermissionChecker
	usage       domain.UsageStatsProvider
	clock       domain.Clock
	validate    *validator.Validate
	logger      *zap.Logger
}

// New creates the boundary.
func New(deps Deps) *Plugin {
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{
		engine:      deps.Engine,
		monitor:     deps.Monitor,
		catalog:     deps.Catalog,
		permissions: deps.Permissions,
		usage:       deps.Usage,
		clock:       clock,
		validate:    validator.New(),
		logger:      logger,
	}
}

func ok(data any) Result {
	return Result{Status: true, Data: data}
}

func fail(err error, data any) Result {
	return Result{Status: false, Error: err.Error(), Data: data}
}

func (p *Plugin) check(op string, req any) error {
	if err := p.validate.Struct(req); err != nil {
		p.logger.Debug("request rejected", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("invalid %s request: %w", op, err)
	}
	return nil
}

// InstalledApps lists installed applications ordered by name.
func (p *Plugin) InstalledApps(ctx context.Context, req InstalledAppsRequest) Result {
	apps, err := p.catalog.InstalledApps(ctx, req.IgnoreSystemApps)
	if err != nil {
		p.logger.Error("listing installed apps failed", zap.Error(err))
		return fail(err, nil)
	}
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	return ok(apps)
}

// RequestPermission launches the grant flow. Data reports whether it was launched.
func (p *Plugin) RequestPermission(ctx context.Context, req PermissionRequest) Result {
	if err := p.check("requestPermission", req); err != nil {
		return fail(err, false)
	}
	launched, err := p.permissions.Request(ctx, req.Kind)
	if err != nil {
		return fail(err, false)
	}
	return ok(launched)
}

// PermissionStatus reports the grant state.
func (p *Plugin) PermissionStatus(ctx context.Context, req PermissionRequest) Result {
	if err := p.check("permissionStatus", req); err != nil {
		return fail(err, domain.PermissionNotDetermined)
	}
	return ok(p.permissions.Status(ctx, req.Kind))
}

// AppUsageData returns usage records in the requested range, optionally filtered by package.
func (p *Plugin) AppUsageData(ctx context.Context, req UsageRequest) Result {
	if err := p.check("appUsageData", req); err != nil {
		return fail(err, nil)
	}

	end := p.clock.Now()
	if req.End != nil {
		end = *req.End
	}
	begin := end.Add(-DefaultUsageRange)
	if req.Start != nil {
		begin = *req.Start
	}
	if !begin.Before(end) {
		return fail(errors.New("invalid appUsageData request: start must be before end"), nil)
	}
	interval := req.Interval
	if interval == "" {
		interval = domain.IntervalDaily
	}

	stats, err := p.usage.QueryUsageStats(ctx, interval, begin, end)
	if err != nil {
		p.logger.Warn("usage query failed", zap.Error(err))
		return fail(fmt.Errorf("query usage: %w", err), nil)
	}

	var filter map[string]struct{}
	if len(req.Packages) > 0 {
		filter = make(map[string]struct{}, len(req.Packages))
		for _, pkg := range req.Packages {
			filter[pkg] = struct{}{}
		}
	}

	records := make([]domain.UsageRecord, 0, len(stats))
	for _, st := range stats {
		if filter != nil {
			if _, want := filter[st.PackageName]; !want {
				continue
			}
		}
		rec := domain.UsageRecord{
			AppName:      st.PackageName,
			PackageName:  st.PackageName,
			FirstTime:    st.FirstTimeStamp,
			LastTime:     st.LastTimeStamp,
			LastTimeUsed: st.LastTimeUsed,
			UsageTime:    st.TotalTime,
		}
		if p.catalog != nil {
			if info, err := p.catalog.Lookup(ctx, st.PackageName); err == nil && info != nil {
				rec.AppName = info.Name
				rec.Category = info.Category
			}
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].UsageTime > records[j].UsageTime })
	return ok(records)
}

// BlockApps starts blocking req.Packages for req.Duration.
func (p *Plugin) BlockApps(ctx context.Context, req BlockRequest) Result {
	if err := p.check("blockApps", req); err != nil {
		return fail(err, false)
	}
	overlay := domain.OverlayOptions{
		Layout:            req.Layout,
		NotificationTitle: req.NotificationTitle,
		NotificationText:  req.NotificationText,
	}
	if err := p.engine.BlockApps(ctx, req.Packages, req.Duration, overlay); err != nil {
		return fail(err, false)
	}
	return ok(true)
}

// ScheduleBlock registers (or replaces) a future block.
func (p *Plugin) ScheduleBlock(ctx context.Context, req ScheduleRequest) Result {
	if err := p.check("scheduleBlock", req); err != nil {
		return fail(err, nil)
	}
	id := req.ID
	if id == "" {
		id = usecase.NewScheduleID()
	}
	active, err := p.engine.Schedules().Apply(domain.BlockSchedule{
		ID:          id,
		Packages:    req.Packages,
		StartTime:   req.StartTime,
		Duration:    req.Duration,
		IsRecurring: req.Recurring,
		DaysOfWeek:  req.DaysOfWeek,
		IsEnabled:   !req.Disabled,
	})
	if err != nil {
		return fail(err, nil)
	}
	return ok(ScheduleResult{ID: id, Active: active})
}

// CancelScheduledBlock removes a schedule.
func (p *Plugin) CancelScheduledBlock(ctx context.Context, req CancelScheduleRequest) Result {
	if err := p.check("cancelScheduledBlock", req); err != nil {
		return fail(err, false)
	}
	if err := p.engine.Schedules().Cancel(req.ID); err != nil {
		return fail(err, false)
	}
	return ok(true)
}

// GetActiveSchedules lists registered schedules.
func (p *Plugin) GetActiveSchedules(ctx context.Context) Result {
	list, err := p.engine.Schedules().Active()
	if err != nil {
		return fail(err, nil)
	}
	return ok(list)
}

// UnblockApps ends the block, or removes a subset of its packages.
func (p *Plugin) UnblockApps(ctx context.Context, req UnblockRequest) Result {
	done, err := p.engine.UnblockApps(ctx, req.Packages)
	if err != nil {
		return fail(err, false)
	}
	return ok(done)
}

// IsOnBlockingApps reports whether a block is active.
func (p *Plugin) IsOnBlockingApps(ctx context.Context) Result {
	active, err := p.engine.IsOnBlockingApps(ctx)
	if err != nil {
		return fail(err, false)
	}
	return ok(active)
}

// PauseBlockApps suspends the active block for req.Duration.
func (p *Plugin) PauseBlockApps(ctx context.Context, req PauseRequest) Result {
	if err := p.check("pauseBlockApps", req); err != nil {
		return fail(err, false)
	}
	show := true
	if req.ShowNotification != nil {
		show = *req.ShowNotification
	}
	paused, err := p.engine.Pause().Pause(ctx, req.Duration, usecase.PauseOptions{
		ShowNotification:  show,
		NotificationTitle: req.NotificationTitle,
		NotificationText:  req.NotificationText,
	})
	if err != nil {
		return fail(err, false)
	}
	return ok(paused)
}

// IsBlockingPaused reports whether a pause is pending, with its timing.
func (p *Plugin) IsBlockingPaused(ctx context.Context) Result {
	paused, err := p.engine.Pause().IsPaused(ctx)
	if err != nil {
		return fail(err, PauseStatus{})
	}
	if !paused {
		return ok(PauseStatus{})
	}
	ps, err := p.engine.Pause().State()
	if err != nil {
		return fail(err, PauseStatus{})
	}
	return ok(PauseStatus{
		Paused:             true,
		PauseEndTime:       ps.PauseEndTime,
		RemainingPauseTime: ps.PauseEndTime.Sub(p.clock.Now()),
		RemainingBlockTime: ps.RemainingBlockTime,
		PausedPackages:     ps.PausedPackages,
	})
}

// MonitoringAppUsage applies the sampling policy and reports the current
// foreground app and whether now falls inside the daily monitoring window.
func (p *Plugin) MonitoringAppUsage(ctx context.Context, req MonitoringRequest) Result {
	if err := p.check("monitoringAppUsage", req); err != nil {
		return fail(err, nil)
	}
	p.monitor.Configure(req.Interval, req.Lookback)
	st := p.monitor.Status(ctx)

	current := st.Current
	if current != nil && len(req.Packages) > 0 && !contains(req.Packages, current.PackageName) {
		current = nil
	}

	now := p.clock.Now()
	minute := now.Hour()*60 + now.Minute()
	start := req.StartHour*60 + req.StartMinute
	end := req.EndHour*60 + req.EndMinute

	return ok(MonitoringData{
		StartTime: fmt.Sprintf("%02d:%02d", req.StartHour, req.StartMinute),
		EndTime:   fmt.Sprintf("%02d:%02d", req.EndHour, req.EndMinute),
		Frequency: st.Interval,
		InWindow:  inWindow(minute, start, end),
		Current:   current,
	})
}

// ConfigureAppMonitoringService changes the monitor's sampling policy.
func (p *Plugin) ConfigureAppMonitoringService(ctx context.Context, req MonitorConfigRequest) Result {
	if err := p.check("configureAppMonitoringService", req); err != nil {
		return fail(err, false)
	}
	p.monitor.Configure(req.Interval, req.Lookback)
	return ok(true)
}

// ForegroundAppChanges opens the foreground-app-changed stream. The stream ends
// when ctx is cancelled or the subscription is closed.
func (p *Plugin) ForegroundAppChanges(ctx context.Context, req StreamRequest) (*usecase.Subscription, error) {
	if err := p.check("foregroundAppChanges", req); err != nil {
		return nil, err
	}
	p.monitor.Configure(req.Interval, req.Lookback)
	return p.monitor.Subscribe(ctx)
}

// MonitorStatus returns the monitor snapshot.
func (p *Plugin) MonitorStatus(ctx context.Context) Result {
	return ok(p.monitor.Status(ctx))
}

// inWindow reports whether minute-of-day m is in [start, end]; windows may wrap midnight.
func inWindow(m, start, end int) bool {
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
