package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{30 * time.Second, "30 seconds"},
		{time.Minute, "1 minute"},
		{65 * time.Minute, "1 hour 5 minutes"},
		{2 * time.Hour, "2 hours"},
		{time.Hour + time.Second, "1 hour 1 second"},
		{-time.Minute, "0 seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, HumanDuration(tt.d))
		})
	}
}

func TestPause_NotBlockingMutatesNothing(t *testing.T) {
	h := newHarness(t)
	writes := h.kv.Writes()

	paused, err := h.engine.Pause().Pause(context.Background(), 5*time.Second, PauseOptions{ShowNotification: true})
	assert.False(t, paused)
	assert.True(t, errors.Is(err, domain.ErrNotBlocking))
	assert.Equal(t, writes, h.kv.Writes(), "no state mutated")
	assert.Empty(t, h.alarms.keys())
	assert.Empty(t, h.notifier.shown)
}

func TestPause_RejectsNonPositiveDuration(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.BlockApps(context.Background(), []string{"com.a"}, time.Hour, domain.OverlayOptions{}))

	_, err := h.engine.Pause().Pause(context.Background(), 0, PauseOptions{})
	assert.True(t, errors.Is(err, domain.ErrInvalidDuration))
}

func TestPause_SuspendsBlock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a", "com.b"}, 10*time.Minute, domain.OverlayOptions{}))

	paused, err := h.engine.Pause().Pause(ctx, 5*time.Minute, PauseOptions{ShowNotification: true})
	require.NoError(t, err)
	assert.True(t, paused)

	st, err := h.store.LoadBlock()
	require.NoError(t, err)
	assert.False(t, st.IsBlocking, "pause flips isBlocking")

	ps, err := h.store.LoadPause()
	require.NoError(t, err)
	assert.True(t, ps.IsPaused)
	assert.Equal(t, []string{"com.a", "com.b"}, ps.PausedPackages)
	assert.Equal(t, 10*time.Minute, ps.RemainingBlockTime)

	_, stops := h.host.counts()
	assert.Equal(t, 1, stops)
	assert.False(t, h.host.IsRunning())

	require.Len(t, h.notifier.shown, 1)
	notice := h.notifier.shown[0]
	assert.Equal(t, DefaultPauseTitle, notice.Title)
	assert.Equal(t, "2 apps will be blocked again for 10 minutes", notice.Text)

	_, unblockArmed := h.alarms.get(KeyUnblockExact)
	assert.False(t, unblockArmed, "unblock triggers cancelled while paused")
	resume, ok := h.alarms.get(KeyResumeExact)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), resume.DueAt)

	isPaused, err := h.engine.Pause().IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, isPaused)
}

func TestPause_NoRemainingTimeRoutesToUnblock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a"}, time.Minute, domain.OverlayOptions{}))
	h.clock.Advance(2 * time.Minute)

	paused, err := h.engine.Pause().Pause(ctx, 5*time.Minute, PauseOptions{})
	require.NoError(t, err)
	assert.False(t, paused)

	ps, err := h.store.LoadPause()
	require.NoError(t, err)
	assert.False(t, ps.IsPaused, "never a negative-duration pause")
	st, err := h.store.LoadBlock()
	require.NoError(t, err)
	assert.False(t, st.IsBlocking)
	_, ok := h.alarms.get(KeyResumeExact)
	assert.False(t, ok)
}

func TestPause_ResumeRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a", "com.b"}, 30*time.Minute, domain.OverlayOptions{}))
	original, err := h.store.LoadBlock()
	require.NoError(t, err)

	_, err = h.engine.Pause().Pause(ctx, 5*time.Minute, PauseOptions{ShowNotification: true})
	require.NoError(t, err)
	resume, ok := h.alarms.get(KeyResumeExact)
	require.True(t, ok)

	h.clock.Advance(5 * time.Minute)
	h.engine.HandleTask(ctx, resume)

	restored, err := h.store.LoadBlock()
	require.NoError(t, err)
	assert.True(t, restored.IsBlocking)
	assert.Equal(t, original.BlockedPackages, restored.BlockedPackages)
	assert.Equal(t, original.BlockEndTime.Add(5*time.Minute).UnixMilli(), restored.BlockEndTime.UnixMilli(),
		"remaining block time is preserved across the pause")

	ps, err := h.store.LoadPause()
	require.NoError(t, err)
	assert.False(t, ps.IsPaused)
	assert.Equal(t, 1, h.notifier.dismissed)

	starts, _ := h.host.counts()
	require.Equal(t, 2, starts)
	assert.True(t, h.host.starts[1].Resuming)

	_, ok = h.alarms.get(KeyResumeExact)
	assert.False(t, ok, "resume triggers cancelled")
	unblock, ok := h.alarms.get(KeyUnblockExact)
	require.True(t, ok)
	assert.Equal(t, restored.BlockEndTime.UnixMilli(), unblock.DueAt.UnixMilli())

	// The backup and deferred tiers firing afterwards change nothing.
	h.engine.HandleTask(ctx, domain.Task{Key: KeyResumeBackup, Kind: domain.TaskResume, Tier: domain.TierBackup, Payload: resume.Payload})
	h.engine.HandleTask(ctx, domain.Task{Key: KeyResumeDeferred, Kind: domain.TaskResume, Tier: domain.TierDeferred, Payload: resume.Payload})
	starts, _ = h.host.counts()
	assert.Equal(t, 2, starts)
}

func TestPause_ResumePersistsBlockBeforeStoppingHost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a"}, 30*time.Minute, domain.OverlayOptions{}))
	_, err := h.engine.Pause().Pause(ctx, 5*time.Minute, PauseOptions{})
	require.NoError(t, err)
	h.clock.Advance(5 * time.Minute)

	var activeDuringStop bool
	h.host.onStop = func() {
		active, err := h.store.IsActive()
		require.NoError(t, err)
		activeDuringStop = active
	}

	resumed, err := h.engine.Pause().Resume(ctx)
	require.NoError(t, err)
	require.True(t, resumed)
	assert.True(t, activeDuringStop, "a crash while stopping the old service must not lose the block")
}

func TestPause_ImmediateResumeRestoresOriginalEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a"}, 30*time.Minute, domain.OverlayOptions{}))
	original, err := h.store.LoadBlock()
	require.NoError(t, err)

	_, err = h.engine.Pause().Pause(ctx, 5*time.Minute, PauseOptions{})
	require.NoError(t, err)
	resumed, err := h.engine.Pause().Resume(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)

	restored, err := h.store.LoadBlock()
	require.NoError(t, err)
	assert.Equal(t, original.BlockEndTime.UnixMilli(), restored.BlockEndTime.UnixMilli())
	assert.Equal(t, original.BlockedPackages, restored.BlockedPackages)
}

func TestPause_StaleResumeTriggerIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a"}, time.Hour, domain.OverlayOptions{}))
	_, err := h.engine.Pause().Pause(ctx, 5*time.Minute, PauseOptions{})
	require.NoError(t, err)

	stale := domain.Task{Key: KeyResumeExact, Kind: domain.TaskResume, Tier: domain.TierExact, Payload: triggerToken(testEpoch.Add(-time.Hour))}
	h.engine.HandleTask(ctx, stale)

	ps, err := h.store.LoadPause()
	require.NoError(t, err)
	assert.True(t, ps.IsPaused, "a trigger of an earlier pause must not resume this one")
}

func TestPause_IsPausedSelfHeals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.BlockApps(ctx, []string{"com.a"}, time.Hour, domain.OverlayOptions{}))
	_, err := h.engine.Pause().Pause(ctx, time.Minute, PauseOptions{})
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	paused, err := h.engine.Pause().IsPaused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	ps, err := h.store.LoadPause()
	require.NoError(t, err)
	assert.False(t, ps.IsPaused, "expired pause cleared")
	active, err := h.engine.IsOnBlockingApps(ctx)
	require.NoError(t, err)
	assert.True(t, active, "block restored with its remaining time")
}
