// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// DetectorConfig holds the recency policy of the foreground app detector.
type DetectorConfig struct {
	RecencyThreshold       time.Duration // Max age of a usage-stats sample (default 10s)
	ResumeRecencyThreshold time.Duration // Widened threshold right after a resume (default 2m)
}

// DefaultDetectorConfig returns default detector configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		RecencyThreshold:       10 * time.Second,
		ResumeRecencyThreshold: 2 * time.Minute,
	}
}

// Detector determines which application is currently in front.
// It never returns errors: a failed OS query is logged and reads as "no detection".
type Detector struct {
	usage  domain.UsageStatsProvider
	clock  domain.Clock
	config DetectorConfig
	logger *zap.Logger
}

// NewDetector creates a detector over the usage-stats provider.
func NewDetector(usage domain.UsageStatsProvider, clock domain.Clock, config DetectorConfig, logger *zap.Logger) *Detector {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Detector{usage: usage, clock: clock, config: config, logger: logger}
}

// Detect returns the foreground app within [now-window, now], or nil.
//
// The latest "moved to foreground" event wins. Without one, the usage-stats entry
// with the greatest LastTimeUsed is accepted only if it is younger than the
// recency threshold, which is widened when resuming.
func (d *Detector) Detect(ctx context.Context, window time.Duration, resuming bool) *domain.ForegroundAppSample {
	now := d.clock.Now()
	begin := now.Add(-window)

	if s := d.fromEvents(ctx, begin, now); s != nil {
		return s
	}

	threshold := d.config.RecencyThreshold
	if resuming {
		threshold = d.config.ResumeRecencyThreshold
	}

	s := d.fromStats(ctx, domain.IntervalDaily, begin, now)
	if s == nil {
		return nil
	}
	if s.TimeAgo >= threshold {
		d.logger.Debug("discarding stale foreground sample",
			zap.String("package", s.PackageName),
			zap.Duration("time_ago", s.TimeAgo),
			zap.Duration("threshold", threshold))
		return nil
	}
	return s
}

// Latest returns the most recently used app within the lookback, with no recency filter.
func (d *Detector) Latest(ctx context.Context, interval domain.UsageInterval, lookback time.Duration) *domain.ForegroundAppSample {
	now := d.clock.Now()
	begin := now.Add(-lookback)

	if s := d.fromEvents(ctx, begin, now); s != nil {
		return s
	}
	return d.fromStats(ctx, interval, begin, now)
}

func (d *Detector) fromEvents(ctx context.Context, begin, now time.Time) *domain.ForegroundAppSample {
	events, err := d.usage.QueryEvents(ctx, begin, now)
	if err != nil {
		d.logger.Warn("usage event query failed", zap.Error(err))
		return nil
	}

	var latest *domain.UsageEvent
	for i := range events {
		ev := &events[i]
		if ev.Type != domain.EventMoveToForeground || ev.PackageName == "" {
			continue
		}
		if latest == nil || !ev.Time.Before(latest.Time) {
			latest = ev
		}
	}
	if latest == nil {
		return nil
	}
	return &domain.ForegroundAppSample{
		PackageName:  latest.PackageName,
		LastTimeUsed: latest.Time,
		TimeAgo:      now.Sub(latest.Time),
	}
}

func (d *Detector) fromStats(ctx context.Context, interval domain.UsageInterval, begin, now time.Time) *domain.ForegroundAppSample {
	stats, err := d.usage.QueryUsageStats(ctx, interval, begin, now)
	if err != nil {
		d.logger.Warn("usage stats query failed", zap.Error(err))
		return nil
	}

	var best *domain.UsageStat
	for i := range stats {
		st := &stats[i]
		if st.PackageName == "" || st.LastTimeUsed.IsZero() {
			continue
		}
		if best == nil || st.LastTimeUsed.After(best.LastTimeUsed) {
			best = st
		}
	}
	if best == nil {
		return nil
	}
	return &domain.ForegroundAppSample{
		PackageName:  best.PackageName,
		LastTimeUsed: best.LastTimeUsed,
		UsageTime:    best.TotalTime,
		TimeAgo:      now.Sub(best.LastTimeUsed),
	}
}
