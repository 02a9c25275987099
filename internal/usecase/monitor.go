package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

const subscriptionBuffer = 16

// AppMonitorConfig holds the foreground-app monitoring policy.
type AppMonitorConfig struct {
	PollInterval time.Duration        // How often to sample the foreground app (default 1s)
	Interval     domain.UsageInterval // Usage-stats aggregation used for sampling (default daily)
	Lookback     time.Duration        // How far back a sample may come from (default 5s)
}

// DefaultAppMonitorConfig returns default monitoring configuration.
func DefaultAppMonitorConfig() AppMonitorConfig {
	return AppMonitorConfig{
		PollInterval: time.Second,
		Interval:     domain.IntervalDaily,
		Lookback:     5 * time.Second,
	}
}

// MonitorStatus is the snapshot returned by AppMonitor.Status.
type MonitorStatus struct {
	Running     bool                        `json:"isRunning"`
	Subscribers int                         `json:"subscribers"`
	Interval    domain.UsageInterval        `json:"interval"`
	Lookback    time.Duration               `json:"lookbackTimeMs"`
	Current     *domain.ForegroundAppSample `json:"currentForegroundApp,omitempty"`
}

// Subscription receives a sample each time the foreground app changes.
type Subscription struct {
	Token string

	ch      chan domain.ForegroundAppSample
	closed  chan struct{}
	monitor *AppMonitor
	once    sync.Once
}

// C returns the sample channel. It is closed by Close.
func (s *Subscription) C() <-chan domain.ForegroundAppSample {
	return s.ch
}

// Close unsubscribes. The polling loop stops with the last subscriber.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.monitor.unsubscribe(s.Token)
	})
}

// AppMonitor runs one polling loop shared by all subscribers.
type AppMonitor struct {
	detector *Detector
	logger   *zap.Logger

	mu      sync.Mutex
	config  AppMonitorConfig
	subs    map[string]*Subscription
	current *domain.ForegroundAppSample
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAppMonitor creates a monitor. Nothing polls until the first Subscribe.
func NewAppMonitor(detector *Detector, config AppMonitorConfig, logger *zap.Logger) *AppMonitor {
	return &AppMonitor{
		detector: detector,
		config:   config,
		logger:   logger,
		subs:     make(map[string]*Subscription),
	}
}

// Configure changes the sampling interval and lookback. Zero values keep the current setting.
func (m *AppMonitor) Configure(interval domain.UsageInterval, lookback time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval != "" {
		m.config.Interval = interval
	}
	if lookback > 0 {
		m.config.Lookback = lookback
	}
}

// Subscribe registers a subscriber. The subscription is closed when ctx ends.
func (m *AppMonitor) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &Subscription{
		Token:   uuid.NewString(),
		ch:      make(chan domain.ForegroundAppSample, subscriptionBuffer),
		closed:  make(chan struct{}),
		monitor: m,
	}

	m.mu.Lock()
	m.subs[sub.Token] = sub
	if m.cancel == nil {
		m.startLocked()
	}
	m.mu.Unlock()

	m.logger.Debug("monitor subscriber added", zap.String("token", sub.Token))

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closed:
		}
	}()
	return sub, nil
}

// Status reports whether the loop runs and the current foreground app.
// Without a running loop a one-off sample is taken.
func (m *AppMonitor) Status(ctx context.Context) MonitorStatus {
	m.mu.Lock()
	st := MonitorStatus{
		Running:     m.cancel != nil,
		Subscribers: len(m.subs),
		Interval:    m.config.Interval,
		Lookback:    m.config.Lookback,
		Current:     m.current,
	}
	cfg := m.config
	m.mu.Unlock()

	if !st.Running {
		st.Current = m.detector.Latest(ctx, cfg.Interval, cfg.Lookback)
	}
	return st
}

// Running reports whether the polling loop is active.
func (m *AppMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *AppMonitor) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.current = nil
	go m.run(ctx, m.done)
	m.logger.Info("foreground app monitoring started")
}

func (m *AppMonitor) unsubscribe(token string) {
	m.mu.Lock()
	sub, ok := m.subs[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subs, token)
	close(sub.ch)
	close(sub.closed)

	var done chan struct{}
	if len(m.subs) == 0 && m.cancel != nil {
		m.cancel()
		m.cancel = nil
		done = m.done
	}
	m.mu.Unlock()

	m.logger.Debug("monitor subscriber removed", zap.String("token", token))
	if done != nil {
		<-done
		m.logger.Info("foreground app monitoring stopped")
	}
}

func (m *AppMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.mu.Lock()
	interval := m.config.PollInterval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// sample emits to every subscriber when the foreground package changes.
func (m *AppMonitor) sample(ctx context.Context) {
	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()

	s := m.detector.Latest(ctx, cfg.Interval, cfg.Lookback)
	if s == nil || ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.PackageName == s.PackageName {
		m.current = s
		return
	}
	m.current = s
	for _, sub := range m.subs {
		select {
		case sub.ch <- *s:
		default:
			m.logger.Debug("dropping sample for slow subscriber", zap.String("token", sub.Token))
		}
	}
}
