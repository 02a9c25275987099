package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/screentime/internal/config"
	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/plugin"
)

func TestParseStart(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", "2026-03-11T08:00:00Z", time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)},
		{"later today", "18:15", time.Date(2026, 3, 10, 18, 15, 0, 0, time.UTC)},
		{"earlier rolls to tomorrow", "09:00", time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		{"now rolls to tomorrow", "14:30", time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStart(tt.input, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := parseStart("tomorrow", now)
	assert.Error(t, err)
}

func TestParseWeekdays(t *testing.T) {
	days, err := parseWeekdays("")
	require.NoError(t, err)
	assert.Nil(t, days)

	days, err = parseWeekdays("Mon, wednesday,mon,FRI")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)

	_, err = parseWeekdays("mon,funday")
	assert.ErrorContains(t, err, "funday")
}

func TestFormatWeekdays(t *testing.T) {
	assert.Equal(t, "daily", formatWeekdays(nil))
	assert.Equal(t, "Sat, Sun", formatWeekdays([]time.Weekday{time.Saturday, time.Sunday}))
}

func TestParseClock(t *testing.T) {
	got, err := parseClock("", "23:59")
	require.NoError(t, err)
	assert.Equal(t, 23, got.Hour())
	assert.Equal(t, 59, got.Minute())

	got, err = parseClock("07:05", "00:00")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Hour())
	assert.Equal(t, 5, got.Minute())

	_, err = parseClock("7pm", "00:00")
	assert.Error(t, err)
}

func TestMetricsPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "metrics-monitor.prom"), metricsPath("/data", domain.RoleMonitor))
}

func TestMonitorConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Daemon.TaskPollInterval = 2 * time.Second
	cfg.Daemon.ReconcileInterval = 5 * time.Minute

	got := monitorConfig(cfg)
	assert.Equal(t, 2*time.Second, got.TaskPollInterval)
	assert.Equal(t, 5*time.Minute, got.ReconcileInterval)
	assert.Equal(t, cfg.Daemon.HeartbeatInterval, got.HeartbeatInterval)
	assert.Equal(t, cfg.Daemon.CompactInterval, got.CompactInterval)
	assert.Equal(t, cfg.Daemon.JournalRetention, got.JournalRetention)
}

func TestReport(t *testing.T) {
	var seen any
	err := report(plugin.Result{Status: true, Data: 3}, func(data any) { seen = data })
	require.NoError(t, err)
	assert.Equal(t, 3, seen)

	seen = nil
	err = report(plugin.Result{Status: false, Error: "no active block", Data: false}, func(data any) { seen = data })
	assert.EqualError(t, err, "no active block")
	assert.Nil(t, seen, "failed results are not rendered")
}

func TestCopyBinary(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "bin", "screentime")
	require.NoError(t, writeFile(src, "payload"))
	require.NoError(t, mkdir(filepath.Dir(dst)))

	require.NoError(t, copyBinary(src, dst))
	assert.Equal(t, "payload", readFile(t, dst))
	assert.Equal(t, 0755, int(fileMode(t, dst).Perm()))
}
