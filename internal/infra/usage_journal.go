package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// UsageJournal implements domain.UsageStatsProvider over a JSON-lines file of
// foreground/background events. The platform binding (or `screentime journal record`)
// appends one line per transition; queries aggregate on read.
type UsageJournal struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewUsageJournal creates a journal at path. The file is created on first Append.
func NewUsageJournal(path string, logger *zap.Logger) *UsageJournal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageJournal{path: path, logger: logger}
}

// Path returns the journal file path.
func (j *UsageJournal) Path() string {
	return j.path
}

// Readable reports whether the journal exists and can be opened.
func (j *UsageJournal) Readable() bool {
	f, err := os.Open(j.path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (j *UsageJournal) touch() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create journal: %w", err)
	}
	return f.Close()
}

// Append writes one event.
func (j *UsageJournal) Append(ctx context.Context, ev domain.UsageEvent) error {
	if ev.PackageName == "" {
		return domain.ErrInvalidPackages
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// QueryEvents returns events in [begin, end], oldest first.
func (j *UsageJournal) QueryEvents(ctx context.Context, begin, end time.Time) ([]domain.UsageEvent, error) {
	all, err := j.readAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UsageEvent, 0, len(all))
	for _, ev := range all {
		if ev.Time.Before(begin) || ev.Time.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// QueryUsageStats aggregates foreground time per package. begin is widened to the
// start of its interval bucket (day, week, month, year); IntervalBest uses it as is.
func (j *UsageJournal) QueryUsageStats(ctx context.Context, interval domain.UsageInterval, begin, end time.Time) ([]domain.UsageStat, error) {
	begin = bucketStart(interval, begin)
	events, err := j.QueryEvents(ctx, begin, end)
	if err != nil {
		return nil, err
	}
	return aggregate(events, end), nil
}

// Compact drops events older than keepSince. The journal is rewritten through a
// temp file so readers never observe a partial file.
func (j *UsageJournal) Compact(ctx context.Context, keepSince time.Time) (int, error) {
	if !j.Readable() {
		return 0, nil
	}
	all, err := j.readAll(ctx)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	dropped := 0
	for _, ev := range all {
		if ev.Time.Before(keepSince) {
			dropped++
			continue
		}
		if err := enc.Encode(ev); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return 0, err
	}
	return dropped, nil
}

func (j *UsageJournal) readAll(ctx context.Context) ([]domain.UsageEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var events []domain.UsageEvent
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev domain.UsageEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			j.logger.Debug("skipping malformed journal line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(a, b int) bool { return events[a].Time.Before(events[b].Time) })
	return events, nil
}

// aggregate folds an ordered event stream into per-package stats. A package is in
// the foreground from its foreground event until its own background event or until
// another package comes to the foreground; an open session counts up to end.
func aggregate(events []domain.UsageEvent, end time.Time) []domain.UsageStat {
	stats := make(map[string]*domain.UsageStat)
	get := func(pkg string, t time.Time) *domain.UsageStat {
		s, ok := stats[pkg]
		if !ok {
			s = &domain.UsageStat{PackageName: pkg, FirstTimeStamp: t}
			stats[pkg] = s
		}
		s.LastTimeStamp = t
		return s
	}

	var current string
	var since time.Time
	closeSession := func(at time.Time) {
		if current == "" {
			return
		}
		s := stats[current]
		s.TotalTime += at.Sub(since)
		s.LastTimeUsed = at
		current = ""
	}

	for _, ev := range events {
		s := get(ev.PackageName, ev.Time)
		switch ev.Type {
		case domain.EventMoveToForeground:
			closeSession(ev.Time)
			current = ev.PackageName
			since = ev.Time
			s.LastTimeUsed = ev.Time
		case domain.EventMoveToBackground:
			if current == ev.PackageName {
				closeSession(ev.Time)
			}
		}
	}
	closeSession(end)

	out := make([]domain.UsageStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PackageName < out[b].PackageName })
	return out
}

func bucketStart(interval domain.UsageInterval, t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch interval {
	case domain.IntervalDaily:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case domain.IntervalWeekly:
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return day.AddDate(0, 0, -int(day.Weekday()))
	case domain.IntervalMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case domain.IntervalYearly:
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc)
	default:
		return t
	}
}

// Ensure UsageJournal implements domain.UsageStatsProvider.
var _ domain.UsageStatsProvider = (*UsageJournal)(nil)
