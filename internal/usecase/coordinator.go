package usecase

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// Trigger keys. Each logical event is registered under three tiers.
const (
	KeyUnblockExact    = "unblock.exact"
	KeyUnblockBackup   = "unblock.backup"
	KeyUnblockDeferred = "unblock.deferred"
	KeyResumeExact     = "resume.exact"
	KeyResumeBackup    = "resume.backup"
	KeyResumeDeferred  = "resume.deferred"
)

var (
	unblockKeys = []string{KeyUnblockExact, KeyUnblockBackup, KeyUnblockDeferred}
	resumeKeys  = []string{KeyResumeExact, KeyResumeBackup, KeyResumeDeferred}
)

// CoordinatorConfig holds the redundancy policy of the schedule coordinator.
type CoordinatorConfig struct {
	BackupSlack        time.Duration // Backup timer offset after the exact deadline (default 60s)
	DeferredResolution time.Duration // Granularity of the deferred task (default 1m)
}

// DefaultCoordinatorConfig returns default coordinator configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		BackupSlack:        60 * time.Second,
		DeferredResolution: time.Minute,
	}
}

// Coordinator registers the redundant unblock and resume triggers.
// Exact and backup timers go to the alarm scheduler, the coarse third tier to the
// deferred queue. Every trigger handler re-reads persisted state, so any
// subset of them firing in any order is safe.
type Coordinator struct {
	alarms   domain.TaskScheduler
	deferred domain.TaskScheduler
	clock    domain.Clock
	config   CoordinatorConfig
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator. alarms and deferred may be the same scheduler.
func NewCoordinator(alarms, deferred domain.TaskScheduler, clock domain.Clock, config CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Coordinator{alarms: alarms, deferred: deferred, clock: clock, config: config, logger: logger}
}

// ScheduleUnblock registers the three unblock triggers for a block ending at end.
func (c *Coordinator) ScheduleUnblock(end time.Time) error {
	return c.register(domain.TaskUnblock, unblockKeys, end, triggerToken(end))
}

// ScheduleResume registers the three resume triggers for a pause ending at pauseEnd.
// Re-registering replaces any pending resume.
func (c *Coordinator) ScheduleResume(pauseEnd time.Time) error {
	return c.register(domain.TaskResume, resumeKeys, pauseEnd, triggerToken(pauseEnd))
}

// CancelUnblock removes every unblock trigger.
func (c *Coordinator) CancelUnblock() error {
	return c.cancel(unblockKeys)
}

// CancelResume removes every resume trigger.
func (c *Coordinator) CancelResume() error {
	return c.cancel(resumeKeys)
}

// CancelAll removes every unblock and resume trigger. Scheduled-block tasks are left alone.
func (c *Coordinator) CancelAll() error {
	return errors.Join(c.CancelUnblock(), c.CancelResume())
}

// DeferredDue rounds the deferred tier up to the next whole resolution step after due.
func (c *Coordinator) DeferredDue(due time.Time) time.Time {
	now := c.clock.Now()
	res := c.config.DeferredResolution
	if res <= 0 {
		return due
	}
	delay := due.Sub(now)
	if delay < 0 {
		delay = 0
	}
	steps := delay/res + 1
	return now.Add(steps * res)
}

func (c *Coordinator) register(kind domain.TaskKind, keys []string, due time.Time, token string) error {
	tasks := []struct {
		scheduler domain.TaskScheduler
		task      domain.Task
	}{
		{c.alarms, domain.Task{Key: keys[0], Kind: kind, Tier: domain.TierExact, DueAt: due, Payload: token}},
		{c.alarms, domain.Task{Key: keys[1], Kind: kind, Tier: domain.TierBackup, DueAt: due.Add(c.config.BackupSlack), Payload: token}},
		{c.deferred, domain.Task{Key: keys[2], Kind: kind, Tier: domain.TierDeferred, DueAt: c.DeferredDue(due), Payload: token}},
	}

	// Every tier is attempted even if an earlier one fails.
	var errs []error
	for _, t := range tasks {
		if err := t.scheduler.Schedule(t.task); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", t.task.Key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.logger.Info("triggers registered",
		zap.String("kind", string(kind)),
		zap.Time("due_at", due))
	return nil
}

func (c *Coordinator) cancel(keys []string) error {
	var errs []error
	for _, k := range keys {
		if err := c.alarms.Cancel(k); err != nil {
			errs = append(errs, err)
		}
		if c.deferred != c.alarms {
			if err := c.deferred.Cancel(k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// triggerToken identifies the deadline a trigger was registered for.
func triggerToken(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
