package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

const taskKeyPrefix = "task:"

// TaskQueue implements domain.TaskScheduler as persisted tasks in the shared
// key/value store. Tasks survive process death; the monitor daemon runs due ones.
type TaskQueue struct {
	kv     domain.KeyValueStore
	logger *zap.Logger
}

// NewTaskQueue creates a queue over kv.
func NewTaskQueue(kv domain.KeyValueStore, logger *zap.Logger) *TaskQueue {
	return &TaskQueue{kv: kv, logger: logger}
}

// Schedule persists task, replacing any task with the same key.
func (q *TaskQueue) Schedule(task domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := q.kv.Set(taskKeyPrefix+task.Key, string(data)); err != nil {
		return fmt.Errorf("persist task %s: %w", task.Key, err)
	}
	q.logger.Debug("task queued", zap.String("key", task.Key), zap.Time("due_at", task.DueAt))
	return nil
}

// Cancel removes the task under key.
func (q *TaskQueue) Cancel(key string) error {
	return q.kv.Delete(taskKeyPrefix + key)
}

// CancelAll removes every queued task.
func (q *TaskQueue) CancelAll() error {
	keys, err := q.kv.Keys(taskKeyPrefix)
	if err != nil {
		return err
	}
	return q.kv.Delete(keys...)
}

// Pending returns queued tasks ordered by due time. Unreadable entries are skipped.
func (q *TaskQueue) Pending() ([]domain.Task, error) {
	entries, err := q.load()
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(entries))
	for _, e := range entries {
		tasks = append(tasks, e.task)
	}
	sortTasks(tasks)
	return tasks, nil
}

// RunDue executes every task due at or before now. Each task is claimed with a
// compare-and-swap before it runs, so concurrent runners never execute it twice.
// Returns how many tasks ran.
func (q *TaskQueue) RunDue(ctx context.Context, now time.Time, handler domain.TaskHandler) (int, error) {
	entries, err := q.load()
	if err != nil {
		return 0, err
	}

	due := make([]queuedTask, 0, len(entries))
	for _, e := range entries {
		if !e.task.DueAt.After(now) {
			due = append(due, e)
		}
	}
	tasks := make([]domain.Task, len(due))
	byKey := make(map[string]queuedTask, len(due))
	for i, e := range due {
		tasks[i] = e.task
		byKey[e.task.Key] = e
	}
	sortTasks(tasks)

	ran := 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return ran, nil
		}
		e := byKey[t.Key]
		won, err := q.kv.CompareAndSwap(e.storeKey, e.raw, "")
		if err != nil {
			return ran, fmt.Errorf("claim task %s: %w", t.Key, err)
		}
		if !won {
			continue // replaced or claimed elsewhere
		}
		_ = q.kv.Delete(e.storeKey)

		q.logger.Info("running queued task",
			zap.String("key", t.Key),
			zap.String("kind", string(t.Kind)),
			zap.Duration("late_by", now.Sub(t.DueAt)))
		handler.HandleTask(ctx, t)
		ran++
	}
	return ran, nil
}

type queuedTask struct {
	storeKey string
	raw      string
	task     domain.Task
}

func (q *TaskQueue) load() ([]queuedTask, error) {
	keys, err := q.kv.Keys(taskKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]queuedTask, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := q.kv.Get(k)
		if err != nil {
			return nil, err
		}
		if !ok || raw == "" {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			q.logger.Warn("dropping unreadable task", zap.String("key", k), zap.Error(err))
			_ = q.kv.Delete(k)
			continue
		}
		if t.Key == "" {
			t.Key = strings.TrimPrefix(k, taskKeyPrefix)
		}
		out = append(out, queuedTask{storeKey: k, raw: raw, task: t})
	}
	return out, nil
}

// Ensure TaskQueue implements domain.TaskScheduler.
var _ domain.TaskScheduler = (*TaskQueue)(nil)
