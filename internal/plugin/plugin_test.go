package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/state"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

var epoch = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeHost struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (h *fakeHost) Start(ctx context.Context, opts domain.StartOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.starts++
	return nil
}

func (h *fakeHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	return nil
}

func (h *fakeHost) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

type fakeUsage struct {
	events   []domain.UsageEvent
	stats    []domain.UsageStat
	statsErr error
	begins   []time.Time
	ends     []time.Time
}

func (u *fakeUsage) QueryEvents(ctx context.Context, begin, end time.Time) ([]domain.UsageEvent, error) {
	return u.events, nil
}

func (u *fakeUsage) QueryUsageStats(ctx context.Context, interval domain.UsageInterval, begin, end time.Time) ([]domain.UsageStat, error) {
	u.begins = append(u.begins, begin)
	u.ends = append(u.ends, end)
	return u.stats, u.statsErr
}

type fakeCatalog struct {
	apps []domain.AppInfo
}

func (c *fakeCatalog) InstalledApps(ctx context.Context, ignoreSystemApps bool) ([]domain.AppInfo, error) {
	return append([]domain.AppInfo(nil), c.apps...), nil
}

func (c *fakeCatalog) Lookup(ctx context.Context, pkg string) (*domain.AppInfo, error) {
	for i := range c.apps {
		if c.apps[i].Package == pkg {
			return &c.apps[i], nil
		}
	}
	return nil, nil
}

type fakePermissions struct {
	requested []domain.PermissionKind
}

func (p *fakePermissions) Status(ctx context.Context, kind domain.PermissionKind) domain.PermissionStatus {
	return domain.PermissionApproved
}

func (p *fakePermissions) Request(ctx context.Context, kind domain.PermissionKind) (bool, error) {
	p.requested = append(p.requested, kind)
	return true, nil
}

type harness struct {
	plugin *Plugin
	store  *state.Store
	host   *fakeHost
	usage  *fakeUsage
	perms  *fakePermissions
	queue  *infra.TaskQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	clock := fixedClock{now: epoch}

	kv := infra.NewMemoryStore()
	store := state.New(kv, clock)
	queue := infra.NewTaskQueue(kv, logger)
	host := &fakeHost{}
	usage := &fakeUsage{}
	perms := &fakePermissions{}

	engine := usecase.NewEngine(usecase.EngineDeps{
		Store:       store,
		Host:        host,
		Notifier:    infra.NewLogNotifier(logger),
		Alarms:      queue,
		Deferred:    queue,
		Clock:       clock,
		Logger:      logger,
		Coordinator: usecase.DefaultCoordinatorConfig(),
		Recovery:    usecase.DefaultRecoveryConfig(),
	})
	detector := usecase.NewDetector(usage, clock, usecase.DefaultDetectorConfig(), logger)
	monitor := usecase.NewAppMonitor(detector, usecase.DefaultAppMonitorConfig(), logger)

	p := New(Deps{
		Engine:  engine,
		Monitor: monitor,
		Catalog: &fakeCatalog{apps: []domain.AppInfo{
			{Name: "Zoom", Package: "us.zoom.xos", Category: "business"},
			{Name: "Chess", Package: "com.apple.Chess", Category: "games"},
		}},
		Permissions: perms,
		Usage:       usage,
		Clock:       clock,
		Logger:      logger,
	})
	return &harness{plugin: p, store: store, host: host, usage: usage, perms: perms, queue: queue}
}

func TestPlugin_InvalidInputHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	results := []Result{
		h.plugin.BlockApps(ctx, BlockRequest{Duration: time.Minute}),
		h.plugin.BlockApps(ctx, BlockRequest{Packages: []string{"com.apple.Chess"}}),
		h.plugin.BlockApps(ctx, BlockRequest{Packages: []string{""}, Duration: time.Minute}),
		h.plugin.ScheduleBlock(ctx, ScheduleRequest{Packages: []string{"a"}, Duration: time.Minute}),
		h.plugin.CancelScheduledBlock(ctx, CancelScheduleRequest{}),
		h.plugin.PauseBlockApps(ctx, PauseRequest{}),
		h.plugin.RequestPermission(ctx, PermissionRequest{Kind: "camera"}),
		h.plugin.ConfigureAppMonitoringService(ctx, MonitorConfigRequest{Interval: "hourly", Lookback: time.Second}),
		h.plugin.MonitoringAppUsage(ctx, MonitoringRequest{StartHour: 24}),
	}
	for i, r := range results {
		assert.False(t, r.Status, "request %d", i)
		assert.NotEmpty(t, r.Error, "request %d", i)
	}

	st, err := h.store.LoadBlock()
	require.NoError(t, err)
	assert.False(t, st.IsBlocking)
	assert.Zero(t, h.host.starts)
	assert.Empty(t, h.perms.requested)

	pending, err := h.queue.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPlugin_BlockStatusUnblock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.plugin.BlockApps(ctx, BlockRequest{
		Packages:          []string{"com.apple.Chess"},
		Duration:          30 * time.Minute,
		Layout:            "focus",
		NotificationTitle: "Blocked",
	})
	require.True(t, r.Status, r.Error)
	assert.Equal(t, true, r.Data)
	assert.Equal(t, 1, h.host.starts)

	r = h.plugin.IsOnBlockingApps(ctx)
	require.True(t, r.Status)
	assert.Equal(t, true, r.Data)

	opts, err := h.store.LoadOverlayOptions()
	require.NoError(t, err)
	assert.Equal(t, "focus", opts.Layout)

	r = h.plugin.UnblockApps(ctx, UnblockRequest{})
	require.True(t, r.Status, r.Error)
	assert.Equal(t, true, r.Data)

	r = h.plugin.IsOnBlockingApps(ctx)
	assert.Equal(t, false, r.Data)
	assert.False(t, h.host.IsRunning())
}

func TestPlugin_PauseWithoutBlock(t *testing.T) {
	h := newHarness(t)

	r := h.plugin.PauseBlockApps(context.Background(), PauseRequest{Duration: 5 * time.Minute})
	assert.False(t, r.Status)
	assert.Equal(t, false, r.Data)
	assert.Equal(t, domain.ErrNotBlocking.Error(), r.Error)
}

func TestPlugin_PauseAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.plugin.BlockApps(ctx, BlockRequest{
		Packages: []string{"com.apple.Chess", "us.zoom.xos"},
		Duration: time.Hour,
	}).Status)

	quiet := false
	r := h.plugin.PauseBlockApps(ctx, PauseRequest{Duration: 10 * time.Minute, ShowNotification: &quiet})
	require.True(t, r.Status, r.Error)
	assert.Equal(t, true, r.Data)
	assert.False(t, h.host.IsRunning())

	r = h.plugin.IsBlockingPaused(ctx)
	require.True(t, r.Status, r.Error)
	ps, ok := r.Data.(PauseStatus)
	require.True(t, ok)
	assert.True(t, ps.Paused)
	assert.Equal(t, epoch.Add(10*time.Minute), ps.PauseEndTime)
	assert.Equal(t, 10*time.Minute, ps.RemainingPauseTime)
	assert.Equal(t, time.Hour, ps.RemainingBlockTime)
	assert.ElementsMatch(t, []string{"com.apple.Chess", "us.zoom.xos"}, ps.PausedPackages)
}

func TestPlugin_IsBlockingPausedIdle(t *testing.T) {
	h := newHarness(t)

	r := h.plugin.IsBlockingPaused(context.Background())
	require.True(t, r.Status)
	assert.Equal(t, PauseStatus{}, r.Data)
}

func TestPlugin_ScheduleLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.plugin.ScheduleBlock(ctx, ScheduleRequest{
		Packages:  []string{"com.apple.Chess"},
		StartTime: epoch.Add(time.Hour),
		Duration:  30 * time.Minute,
	})
	require.True(t, r.Status, r.Error)
	res := r.Data.(ScheduleResult)
	assert.NotEmpty(t, res.ID, "id generated")
	assert.True(t, res.Active)

	// Same id replaces.
	r = h.plugin.ScheduleBlock(ctx, ScheduleRequest{
		ID:        res.ID,
		Packages:  []string{"us.zoom.xos"},
		StartTime: epoch.Add(2 * time.Hour),
		Duration:  15 * time.Minute,
	})
	require.True(t, r.Status, r.Error)

	r = h.plugin.GetActiveSchedules(ctx)
	require.True(t, r.Status)
	list := r.Data.([]domain.BlockSchedule)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"us.zoom.xos"}, list[0].Packages)

	r = h.plugin.CancelScheduledBlock(ctx, CancelScheduleRequest{ID: res.ID})
	assert.True(t, r.Status, r.Error)

	r = h.plugin.CancelScheduledBlock(ctx, CancelScheduleRequest{ID: res.ID})
	assert.False(t, r.Status)
}

func TestPlugin_AppUsageData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.usage.stats = []domain.UsageStat{
		{PackageName: "com.apple.Chess", TotalTime: 10 * time.Minute},
		{PackageName: "us.zoom.xos", TotalTime: 40 * time.Minute},
		{PackageName: "org.unknown", TotalTime: time.Minute},
	}

	r := h.plugin.AppUsageData(ctx, UsageRequest{})
	require.True(t, r.Status, r.Error)
	records := r.Data.([]domain.UsageRecord)
	require.Len(t, records, 3)
	assert.Equal(t, "Zoom", records[0].AppName, "ordered by usage, enriched by catalog")
	assert.Equal(t, "business", records[0].Category)
	assert.Equal(t, "org.unknown", records[2].AppName)
	assert.Equal(t, epoch.Add(-24*time.Hour), h.usage.begins[0])
	assert.Equal(t, epoch, h.usage.ends[0])

	r = h.plugin.AppUsageData(ctx, UsageRequest{Packages: []string{"com.apple.Chess"}})
	require.True(t, r.Status)
	records = r.Data.([]domain.UsageRecord)
	require.Len(t, records, 1)
	assert.Equal(t, "Chess", records[0].AppName)
}

func TestPlugin_AppUsageDataErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start, end := epoch, epoch.Add(-time.Hour)
	r := h.plugin.AppUsageData(ctx, UsageRequest{Start: &start, End: &end})
	assert.False(t, r.Status)
	assert.Empty(t, h.usage.begins, "no query for an inverted range")

	h.usage.statsErr = errors.New("denied")
	r = h.plugin.AppUsageData(ctx, UsageRequest{})
	assert.False(t, r.Status)
	assert.Contains(t, r.Error, "denied")
}

func TestPlugin_InstalledAppsSorted(t *testing.T) {
	h := newHarness(t)

	r := h.plugin.InstalledApps(context.Background(), InstalledAppsRequest{})
	require.True(t, r.Status)
	apps := r.Data.([]domain.AppInfo)
	require.Len(t, apps, 2)
	assert.Equal(t, "Chess", apps[0].Name)
	assert.Equal(t, "Zoom", apps[1].Name)
}

func TestPlugin_Permissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.plugin.RequestPermission(ctx, PermissionRequest{Kind: domain.PermissionAppUsage})
	require.True(t, r.Status, r.Error)
	assert.Equal(t, true, r.Data)
	assert.Equal(t, []domain.PermissionKind{domain.PermissionAppUsage}, h.perms.requested)

	r = h.plugin.PermissionStatus(ctx, PermissionRequest{Kind: domain.PermissionAppUsage})
	require.True(t, r.Status)
	assert.Equal(t, domain.PermissionApproved, r.Data)
}

func TestPlugin_MonitoringAppUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.usage.events = []domain.UsageEvent{{
		PackageName: "com.apple.Chess",
		Type:        domain.EventMoveToForeground,
		Time:        epoch.Add(-2 * time.Second),
	}}

	r := h.plugin.MonitoringAppUsage(ctx, MonitoringRequest{
		StartHour: 9, EndHour: 17, Interval: domain.IntervalWeekly, Lookback: 10 * time.Second,
	})
	require.True(t, r.Status, r.Error)
	data := r.Data.(MonitoringData)
	assert.Equal(t, "09:00", data.StartTime)
	assert.Equal(t, "17:00", data.EndTime)
	assert.Equal(t, domain.IntervalWeekly, data.Frequency)
	assert.True(t, data.InWindow)
	require.NotNil(t, data.Current)
	assert.Equal(t, "com.apple.Chess", data.Current.PackageName)

	r = h.plugin.MonitoringAppUsage(ctx, MonitoringRequest{
		StartHour: 22, EndHour: 6, Packages: []string{"us.zoom.xos"},
	})
	require.True(t, r.Status)
	data = r.Data.(MonitoringData)
	assert.False(t, data.InWindow)
	assert.Nil(t, data.Current, "foreground app outside the package filter")
}

func TestInWindow(t *testing.T) {
	tests := []struct {
		name       string
		m, s, e    int
		wantInside bool
	}{
		{"inside", 600, 540, 1020, true},
		{"before", 500, 540, 1020, false},
		{"end inclusive", 1020, 540, 1020, true},
		{"wrap late", 1380, 1320, 360, true},
		{"wrap early", 120, 1320, 360, true},
		{"wrap outside", 720, 1320, 360, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantInside, inWindow(tt.m, tt.s, tt.e))
		})
	}
}

func TestPlugin_ForegroundAppChanges(t *testing.T) {
	h := newHarness(t)
	h.usage.events = []domain.UsageEvent{{
		PackageName: "us.zoom.xos",
		Type:        domain.EventMoveToForeground,
		Time:        epoch.Add(-time.Second),
	}}

	_, err := h.plugin.ForegroundAppChanges(context.Background(), StreamRequest{Interval: "hourly"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := h.plugin.ForegroundAppChanges(ctx, StreamRequest{})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case sample := <-sub.C():
		assert.Equal(t, "us.zoom.xos", sample.PackageName)
	case <-time.After(5 * time.Second):
		t.Fatal("no sample delivered")
	}
}
