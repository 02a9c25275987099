package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

func newTestJournal(t *testing.T) *UsageJournal {
	t.Helper()
	return NewUsageJournal(filepath.Join(t.TempDir(), "usage.jsonl"), zap.NewNop())
}

func appendEvents(t *testing.T, j *UsageJournal, events ...domain.UsageEvent) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, j.Append(context.Background(), ev))
	}
}

func TestUsageJournal_MissingFile(t *testing.T) {
	j := newTestJournal(t)
	assert.False(t, j.Readable())

	events, err := j.QueryEvents(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)

	n, err := j.Compact(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, j.Readable(), "compacting a missing journal must not create it")
}

func TestUsageJournal_QueryEvents(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	// Written out of order; queries return oldest first.
	appendEvents(t, j,
		domain.UsageEvent{PackageName: "com.b", Type: domain.EventMoveToForeground, Time: base.Add(20 * time.Second)},
		domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToForeground, Time: base},
		domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToBackground, Time: base.Add(10 * time.Second)},
	)

	events, err := j.QueryEvents(context.Background(), base.Add(5*time.Second), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "com.a", events[0].PackageName)
	assert.Equal(t, domain.EventMoveToBackground, events[0].Type)
	assert.Equal(t, "com.b", events[1].PackageName)
	assert.True(t, j.Readable())
}

func TestUsageJournal_SkipsMalformedLines(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	appendEvents(t, j, domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToForeground, Time: base})

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := j.QueryEvents(context.Background(), base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUsageJournal_AppendRejectsEmptyPackage(t *testing.T) {
	j := newTestJournal(t)
	err := j.Append(context.Background(), domain.UsageEvent{Type: domain.EventMoveToForeground})
	assert.ErrorIs(t, err, domain.ErrInvalidPackages)
}

func TestUsageJournal_QueryUsageStats(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	appendEvents(t, j,
		domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToForeground, Time: base},
		// com.b takes over without com.a reporting background.
		domain.UsageEvent{PackageName: "com.b", Type: domain.EventMoveToForeground, Time: base.Add(30 * time.Second)},
		domain.UsageEvent{PackageName: "com.b", Type: domain.EventMoveToBackground, Time: base.Add(40 * time.Second)},
		domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToForeground, Time: base.Add(time.Minute)},
	)

	end := base.Add(90 * time.Second)
	stats, err := j.QueryUsageStats(context.Background(), domain.IntervalBest, base, end)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	a, b := stats[0], stats[1]
	assert.Equal(t, "com.a", a.PackageName)
	assert.Equal(t, 60*time.Second, a.TotalTime, "30s first session + 30s open session up to end")
	assert.Equal(t, end, a.LastTimeUsed)
	assert.Equal(t, base, a.FirstTimeStamp)

	assert.Equal(t, "com.b", b.PackageName)
	assert.Equal(t, 10*time.Second, b.TotalTime)
	assert.Equal(t, base.Add(40*time.Second), b.LastTimeUsed)
}

func TestUsageJournal_DailyBucketWidensBegin(t *testing.T) {
	j := newTestJournal(t)
	morning := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	appendEvents(t, j,
		domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToForeground, Time: morning},
		domain.UsageEvent{PackageName: "com.a", Type: domain.EventMoveToBackground, Time: morning.Add(time.Minute)},
	)

	noon := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	stats, err := j.QueryUsageStats(context.Background(), domain.IntervalDaily, noon, noon.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, time.Minute, stats[0].TotalTime)

	stats, err = j.QueryUsageStats(context.Background(), domain.IntervalBest, noon, noon.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2026, 10, 21, 15, 4, 5, 0, time.UTC) // Wednesday
	tests := []struct {
		interval domain.UsageInterval
		want     time.Time
	}{
		{domain.IntervalDaily, time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC)},
		{domain.IntervalWeekly, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)},
		{domain.IntervalMonthly, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{domain.IntervalYearly, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{domain.IntervalBest, ts},
	}
	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			assert.Equal(t, tt.want, bucketStart(tt.interval, ts))
		})
	}
}

func TestUsageJournal_Compact(t *testing.T) {
	j := newTestJournal(t)
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	appendEvents(t, j,
		domain.UsageEvent{PackageName: "com.old", Type: domain.EventMoveToForeground, Time: base.Add(-48 * time.Hour)},
		domain.UsageEvent{PackageName: "com.new", Type: domain.EventMoveToForeground, Time: base},
	)

	dropped, err := j.Compact(context.Background(), base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	events, err := j.QueryEvents(context.Background(), time.Time{}, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "com.new", events[0].PackageName)
}
