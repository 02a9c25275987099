package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

const (
	schedulesKey         = "block_schedules"
	scheduleTaskPrefix   = "block_schedule_"
	recurrenceGuardDelay = time.Second
)

// ScheduleTaskKey is the deferred task key of schedule id.
func ScheduleTaskKey(id string) string {
	return scheduleTaskPrefix + id
}

// ScheduleManager owns the active BlockSchedule set.
// The set is persisted so separate processes agree on it.
type ScheduleManager struct {
	kv       domain.KeyValueStore
	deferred domain.TaskScheduler
	clock    domain.Clock
	validate *validator.Validate
	logger   *zap.Logger

	mu sync.Mutex
}

// NewScheduleManager creates a schedule manager.
func NewScheduleManager(kv domain.KeyValueStore, deferred domain.TaskScheduler, clock domain.Clock, logger *zap.Logger) *ScheduleManager {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &ScheduleManager{
		kv:       kv,
		deferred: deferred,
		clock:    clock,
		validate: validator.New(),
		logger:   logger,
	}
}

// NewScheduleID returns a fresh schedule id.
func NewScheduleID() string {
	return uuid.NewString()
}

// Apply registers s, replacing any schedule with the same id.
// A disabled schedule, or a one-shot schedule whose start has passed, is removed instead.
// It reports whether the schedule is now active.
func (m *ScheduleManager) Apply(s domain.BlockSchedule) (bool, error) {
	s.Packages = domain.SortedPackages(s.Packages)
	if err := m.validate.Struct(s); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load()
	if err != nil {
		return false, err
	}

	next, ok := s.NextOccurrence(m.clock.Now())
	if !s.IsEnabled || !ok {
		delete(set, s.ID)
		if err := m.deferred.Cancel(ScheduleTaskKey(s.ID)); err != nil {
			return false, err
		}
		m.logger.Info("schedule dropped", zap.String("id", s.ID), zap.Bool("enabled", s.IsEnabled))
		return false, m.save(set)
	}

	set[s.ID] = s
	if err := m.save(set); err != nil {
		return false, err
	}
	if err := m.arm(s.ID, next); err != nil {
		return false, err
	}
	m.logger.Info("schedule applied",
		zap.String("id", s.ID),
		zap.Strings("packages", s.Packages),
		zap.Time("next", next))
	return true, nil
}

// Cancel removes schedule id and its pending task.
func (m *ScheduleManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load()
	if err != nil {
		return err
	}
	if _, ok := set[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrScheduleNotFound, id)
	}
	delete(set, id)
	if err := m.deferred.Cancel(ScheduleTaskKey(id)); err != nil {
		return err
	}
	return m.save(set)
}

// CancelAll removes every schedule.
func (m *ScheduleManager) CancelAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load()
	if err != nil {
		return err
	}
	var errs []error
	for id := range set {
		errs = append(errs, m.deferred.Cancel(ScheduleTaskKey(id)))
	}
	errs = append(errs, m.kv.Delete(schedulesKey))
	return errors.Join(errs...)
}

// Active returns the schedules ordered by start time, then id.
func (m *ScheduleManager) Active() ([]domain.BlockSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.BlockSchedule, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Fire is called when the task of schedule id runs. It returns the schedule to
// start, or nil if it was cancelled meanwhile. Recurring schedules are re-armed
// for their next occurrence; one-shot schedules are removed.
func (m *ScheduleManager) Fire(id string) (*domain.BlockSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load()
	if err != nil {
		return nil, err
	}
	s, ok := set[id]
	if !ok {
		return nil, nil
	}

	if s.IsRecurring {
		next, ok := s.NextOccurrence(m.clock.Now().Add(recurrenceGuardDelay))
		if ok {
			if err := m.arm(id, next); err != nil {
				m.logger.Warn("failed to re-arm recurring schedule", zap.String("id", id), zap.Error(err))
			}
		}
	} else {
		delete(set, id)
		if err := m.save(set); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// Rearm re-registers the task of every active schedule, dropping the ones that can no longer fire.
func (m *ScheduleManager) Rearm() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.load()
	if err != nil {
		return err
	}
	now := m.clock.Now()
	changed := false
	var errs []error
	for id, s := range set {
		next, ok := s.NextOccurrence(now)
		if !ok {
			delete(set, id)
			changed = true
			continue
		}
		errs = append(errs, m.arm(id, next))
	}
	if changed {
		errs = append(errs, m.save(set))
	}
	return errors.Join(errs...)
}

func (m *ScheduleManager) arm(id string, at time.Time) error {
	return m.deferred.Schedule(domain.Task{
		Key:     ScheduleTaskKey(id),
		Kind:    domain.TaskScheduledBlock,
		Tier:    domain.TierDeferred,
		DueAt:   at,
		Payload: id,
	})
}

func (m *ScheduleManager) load() (map[string]domain.BlockSchedule, error) {
	raw, ok, err := m.kv.Get(schedulesKey)
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	set := make(map[string]domain.BlockSchedule)
	if !ok || raw == "" {
		return set, nil
	}
	var list []domain.BlockSchedule
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse schedules: %w", err)
	}
	for _, s := range list {
		set[s.ID] = s
	}
	return set, nil
}

func (m *ScheduleManager) save(set map[string]domain.BlockSchedule) error {
	list := make([]domain.BlockSchedule, 0, len(set))
	for _, s := range set {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return m.kv.Set(schedulesKey, string(data))
}
