package usecase

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/metrics"
	"github.com/eliteGoblin/focusd/screentime/internal/state"
)

var testEpoch = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// manualClock is a settable clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock { return &manualClock{now: testEpoch} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeUsage serves canned events and stats and records query windows.
type fakeUsage struct {
	mu          sync.Mutex
	events      []domain.UsageEvent
	stats       []domain.UsageStat
	eventsErr   error
	statsErr    error
	panicOnce   bool
	eventBegins []time.Time
	intervals   []domain.UsageInterval
}

func (u *fakeUsage) QueryEvents(ctx context.Context, begin, end time.Time) ([]domain.UsageEvent, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.panicOnce {
		u.panicOnce = false
		panic("usage service crashed")
	}
	u.eventBegins = append(u.eventBegins, begin)
	if u.eventsErr != nil {
		return nil, u.eventsErr
	}
	var out []domain.UsageEvent
	for _, ev := range u.events {
		if !ev.Time.Before(begin) && !ev.Time.After(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (u *fakeUsage) QueryUsageStats(ctx context.Context, interval domain.UsageInterval, begin, end time.Time) ([]domain.UsageStat, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.intervals = append(u.intervals, interval)
	if u.statsErr != nil {
		return nil, u.statsErr
	}
	return append([]domain.UsageStat(nil), u.stats...), nil
}

func (u *fakeUsage) setForeground(pkg string, at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = []domain.UsageEvent{{PackageName: pkg, Type: domain.EventMoveToForeground, Time: at}}
}

func (u *fakeUsage) setLastUsed(pkg string, at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats = []domain.UsageStat{{PackageName: pkg, LastTimeUsed: at, LastTimeStamp: at}}
}

func (u *fakeUsage) clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = nil
	u.stats = nil
}

func (u *fakeUsage) firstEventBegin() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.eventBegins) == 0 {
		return time.Time{}
	}
	return u.eventBegins[0]
}

// fakeOverlay counts attachments.
type fakeOverlay struct {
	mu        sync.Mutex
	attached  bool
	renders   int
	dismisses int
	last      domain.OverlayTarget
}

func (o *fakeOverlay) Render(ctx context.Context, target domain.OverlayTarget) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attached = true
	o.renders++
	o.last = target
	return nil
}

func (o *fakeOverlay) Dismiss(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attached = false
	o.dismisses++
	return nil
}

func (o *fakeOverlay) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attached
}

// detach simulates the window going away behind the controller's back.
func (o *fakeOverlay) detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attached = false
}

func (o *fakeOverlay) counts() (renders, dismisses int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.renders, o.dismisses
}

// fakeDevice reports a settable lock state.
type fakeDevice struct {
	mu     sync.Mutex
	locked bool
	err    error
}

func (d *fakeDevice) IsLocked(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked, d.err
}

func (d *fakeDevice) set(locked bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked, d.err = locked, err
}

// fakePermissions approves everything not explicitly revoked.
type fakePermissions struct {
	mu      sync.Mutex
	revoked map[domain.PermissionKind]bool
}

func (p *fakePermissions) Status(ctx context.Context, kind domain.PermissionKind) domain.PermissionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revoked[kind] {
		return domain.PermissionDenied
	}
	return domain.PermissionApproved
}

func (p *fakePermissions) Request(ctx context.Context, kind domain.PermissionKind) (bool, error) {
	return true, nil
}

func (p *fakePermissions) revoke(kind domain.PermissionKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.revoked == nil {
		p.revoked = make(map[domain.PermissionKind]bool)
	}
	p.revoked[kind] = true
}

// fakeNotifier records the pause notification.
type fakeNotifier struct {
	mu        sync.Mutex
	shown     []domain.PauseNotice
	dismissed int
}

func (n *fakeNotifier) ShowPaused(ctx context.Context, notice domain.PauseNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notice)
	return nil
}

func (n *fakeNotifier) DismissPaused(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed++
	return nil
}

// fakeHost records lifecycle calls.
type fakeHost struct {
	mu       sync.Mutex
	running  bool
	starts   []domain.StartOptions
	stops    int
	startErr error
	onStop   func()
}

func (h *fakeHost) Start(ctx context.Context, opts domain.StartOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, opts)
	if h.startErr != nil {
		return h.startErr
	}
	h.running = true
	return nil
}

func (h *fakeHost) Stop(ctx context.Context) error {
	if h.onStop != nil {
		h.onStop()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	h.running = false
	return nil
}

func (h *fakeHost) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *fakeHost) counts() (starts, stops int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.starts), h.stops
}

// recordingScheduler keeps registered tasks by key.
type recordingScheduler struct {
	mu        sync.Mutex
	tasks     map[string]domain.Task
	cancelled []string
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{tasks: make(map[string]domain.Task)}
}

func (s *recordingScheduler) Schedule(task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Key] = task
	return nil
}

func (s *recordingScheduler) Cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, key)
	s.cancelled = append(s.cancelled, key)
	return nil
}

func (s *recordingScheduler) CancelAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]domain.Task)
	return nil
}

func (s *recordingScheduler) get(key string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	return t, ok
}

func (s *recordingScheduler) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// harness wires an engine over fakes sharing one in-memory store.
type harness struct {
	clock    *manualClock
	kv       *infra.MemoryStore
	store    *state.Store
	host     *fakeHost
	notifier *fakeNotifier
	alarms   *recordingScheduler
	deferred *recordingScheduler
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newManualClock(),
		kv:       infra.NewMemoryStore(),
		host:     &fakeHost{},
		notifier: &fakeNotifier{},
		alarms:   newRecordingScheduler(),
		deferred: newRecordingScheduler(),
	}
	h.store = state.New(h.kv, h.clock)
	h.engine = NewEngine(EngineDeps{
		Store:       h.store,
		Host:        h.host,
		Notifier:    h.notifier,
		Alarms:      h.alarms,
		Deferred:    h.deferred,
		Clock:       h.clock,
		Metrics:     metrics.New(),
		Logger:      zap.NewNop(),
		Coordinator: DefaultCoordinatorConfig(),
		Recovery:    DefaultRecoveryConfig(),
	})
	return h
}
