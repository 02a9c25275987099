package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// TimerScheduler implements domain.TaskScheduler with in-process timers.
// Timers die with the process; the persisted TaskQueue covers that case.
type TimerScheduler struct {
	clock  domain.Clock
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	handler domain.TaskHandler
	timers  map[string]*armedTask
	seq     uint64
}

type armedTask struct {
	task  domain.Task
	timer *time.Timer
	seq   uint64
}

// NewTimerScheduler creates a scheduler. Tasks fire into the handler set by Bind.
func NewTimerScheduler(clock domain.Clock, logger *zap.Logger) *TimerScheduler {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &TimerScheduler{
		clock:  clock,
		logger: logger,
		ctx:    context.Background(),
		timers: make(map[string]*armedTask),
	}
}

// Bind sets the context passed to fired tasks and the handler that runs them.
func (s *TimerScheduler) Bind(ctx context.Context, handler domain.TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.handler = handler
}

// Schedule arms task, replacing any timer with the same key. Past-due tasks fire immediately.
func (s *TimerScheduler) Schedule(task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(task.Key)
	s.seq++
	seq := s.seq
	delay := task.DueAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	a := &armedTask{task: task, seq: seq}
	a.timer = time.AfterFunc(delay, func() { s.fire(task.Key, seq) })
	s.timers[task.Key] = a

	s.logger.Debug("alarm armed",
		zap.String("key", task.Key),
		zap.Time("due_at", task.DueAt))
	return nil
}

// Cancel disarms the timer for key.
func (s *TimerScheduler) Cancel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(key)
	return nil
}

// CancelAll disarms every timer.
func (s *TimerScheduler) CancelAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.timers {
		s.stopLocked(key)
	}
	return nil
}

// Pending returns armed tasks ordered by due time.
func (s *TimerScheduler) Pending() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.timers))
	for _, a := range s.timers {
		out = append(out, a.task)
	}
	sortTasks(out)
	return out
}

func (s *TimerScheduler) stopLocked(key string) {
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
	}
}

func (s *TimerScheduler) fire(key string, seq uint64) {
	s.mu.Lock()
	a, ok := s.timers[key]
	if !ok || a.seq != seq {
		// Replaced or cancelled after the timer fired.
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	ctx, handler := s.ctx, s.handler
	s.mu.Unlock()

	if handler == nil {
		s.logger.Warn("alarm fired with no handler", zap.String("key", key))
		return
	}
	s.logger.Info("alarm fired", zap.String("key", key), zap.String("kind", string(a.task.Kind)))
	handler.HandleTask(ctx, a.task)
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].DueAt.Equal(tasks[j].DueAt) {
			return tasks[i].Key < tasks[j].Key
		}
		return tasks[i].DueAt.Before(tasks[j].DueAt)
	})
}

// Ensure TimerScheduler implements domain.TaskScheduler.
var _ domain.TaskScheduler = (*TimerScheduler)(nil)
