//go:build integration

package integration

import (
	"context"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
	"github.com/eliteGoblin/focusd/screentime/internal/infra"
	"github.com/eliteGoblin/focusd/screentime/internal/metrics"
	"github.com/eliteGoblin/focusd/screentime/internal/state"
	"github.com/eliteGoblin/focusd/screentime/internal/usecase"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingHost stands in for the blocker daemon.
type recordingHost struct {
	mu      sync.Mutex
	running bool
	starts  []domain.StartOptions
	stops   int
}

func (h *recordingHost) Start(ctx context.Context, opts domain.StartOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.starts = append(h.starts, opts)
	return nil
}

func (h *recordingHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.stops++
	return nil
}

func (h *recordingHost) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *recordingHost) lastStart() domain.StartOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts[len(h.starts)-1]
}

var _ = Describe("Block lifecycle on the encrypted state database", func() {
	var (
		ctx     context.Context
		dataDir string
		key     []byte
		db      *infra.StateDB
		clock   *testClock
		host    *recordingHost
		queue   *infra.TaskQueue
		engine  *usecase.Engine
	)

	newEngine := func() {
		logger := zap.NewNop()
		queue = infra.NewTaskQueue(db, logger)
		engine = usecase.NewEngine(usecase.EngineDeps{
			Store:       state.New(db, clock),
			Host:        host,
			Notifier:    infra.NewLogNotifier(logger),
			Alarms:      queue,
			Deferred:    queue,
			Clock:       clock,
			Metrics:     metrics.New(),
			Logger:      logger,
			Coordinator: usecase.DefaultCoordinatorConfig(),
			Recovery:    usecase.DefaultRecoveryConfig(),
		})
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		dataDir, err = os.MkdirTemp("", "screentime-integration-*")
		Expect(err).NotTo(HaveOccurred())

		key, err = infra.EnsureKey(infra.NewFileKeyProvider(dataDir))
		Expect(err).NotTo(HaveOccurred())
		db, err = infra.OpenStateDB(dataDir, key, infra.NewProcessManager())
		Expect(err).NotTo(HaveOccurred())

		clock = &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
		host = &recordingHost{}
		newEngine()
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
		os.RemoveAll(dataDir)
	})

	Describe("BlockApps", func() {
		It("persists the block and registers every unblock tier", func() {
			Expect(engine.BlockApps(ctx, []string{"com.valve.dota2", "com.apple.Chess"}, 30*time.Minute, domain.OverlayOptions{})).To(Succeed())

			st, err := engine.BlockState()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.IsBlocking).To(BeTrue())
			Expect(st.BlockedPackages).To(Equal([]string{"com.apple.Chess", "com.valve.dota2"}))
			Expect(st.BlockEndTime).To(BeTemporally("==", clock.Now().Add(30*time.Minute)))
			Expect(host.IsRunning()).To(BeTrue())

			tasks, err := queue.Pending()
			Expect(err).NotTo(HaveOccurred())
			var keys []string
			for _, t := range tasks {
				keys = append(keys, t.Key)
			}
			Expect(keys).To(ConsistOf(usecase.KeyUnblockExact, usecase.KeyUnblockBackup, usecase.KeyUnblockDeferred))
		})

		It("survives closing and reopening the database", func() {
			Expect(engine.BlockApps(ctx, []string{"com.valve.dota2"}, time.Hour, domain.OverlayOptions{})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = infra.OpenStateDB(dataDir, key, infra.NewProcessManager())
			Expect(err).NotTo(HaveOccurred())
			newEngine()

			active, err := engine.IsOnBlockingApps(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeTrue())
		})

		It("cannot be read with another key", func() {
			Expect(engine.BlockApps(ctx, []string{"com.valve.dota2"}, time.Hour, domain.OverlayOptions{})).To(Succeed())
			Expect(db.Close()).To(Succeed())
			db = nil

			other, err := infra.GenerateKey()
			Expect(err).NotTo(HaveOccurred())
			_, err = infra.OpenStateDB(dataDir, other, infra.NewProcessManager())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Unblock triggers", func() {
		It("end the block exactly once when the deadline passes", func() {
			Expect(engine.BlockApps(ctx, []string{"com.valve.dota2"}, 10*time.Minute, domain.OverlayOptions{})).To(Succeed())

			clock.Advance(5 * time.Minute)
			n, err := queue.RunDue(ctx, clock.Now(), engine)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			clock.Advance(10 * time.Minute)
			_, err = queue.RunDue(ctx, clock.Now(), engine)
			Expect(err).NotTo(HaveOccurred())

			active, err := engine.IsOnBlockingApps(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse())
			Expect(host.IsRunning()).To(BeFalse())
			Expect(host.stops).To(Equal(1))

			tasks, err := queue.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(tasks).To(BeEmpty())
		})
	})

	Describe("Pause and resume", func() {
		BeforeEach(func() {
			Expect(engine.BlockApps(ctx, []string{"com.valve.dota2"}, 30*time.Minute, domain.OverlayOptions{})).To(Succeed())
			clock.Advance(10 * time.Minute)
		})

		It("keeps the remaining time across the pause", func() {
			paused, err := engine.Pause().Pause(ctx, 5*time.Minute, usecase.PauseOptions{ShowNotification: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(paused).To(BeTrue())

			ps, err := engine.Pause().State()
			Expect(err).NotTo(HaveOccurred())
			Expect(ps.IsPaused).To(BeTrue())
			Expect(ps.RemainingBlockTime).To(Equal(20 * time.Minute))
			Expect(host.IsRunning()).To(BeFalse())

			active, err := engine.IsOnBlockingApps(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse(), "a paused block is not enforced")

			clock.Advance(5 * time.Minute)
			_, err = queue.RunDue(ctx, clock.Now(), engine)
			Expect(err).NotTo(HaveOccurred())

			st, err := engine.BlockState()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.IsBlocking).To(BeTrue())
			Expect(st.BlockEndTime).To(BeTemporally("==", clock.Now().Add(20*time.Minute)))
			Expect(host.IsRunning()).To(BeTrue())
			Expect(host.lastStart().Resuming).To(BeTrue())

			ps, err = engine.Pause().State()
			Expect(err).NotTo(HaveOccurred())
			Expect(ps.IsPaused).To(BeFalse())
		})

		It("is dropped when the caller unblocks", func() {
			_, err := engine.Pause().Pause(ctx, 5*time.Minute, usecase.PauseOptions{})
			Expect(err).NotTo(HaveOccurred())

			ok, err := engine.UnblockApps(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			clock.Advance(10 * time.Minute)
			_, err = queue.RunDue(ctx, clock.Now(), engine)
			Expect(err).NotTo(HaveOccurred())

			st, err := engine.BlockState()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.IsBlocking).To(BeFalse(), "no resume after unblock")
		})
	})

	Describe("Schedules", func() {
		It("start the block when the persisted schedule fires", func() {
			start := clock.Now().Add(time.Hour)
			_, err := engine.Schedules().Apply(domain.BlockSchedule{
				ID:        "evening",
				Packages:  []string{"com.valve.dota2"},
				StartTime: start,
				Duration:  45 * time.Minute,
				IsEnabled: true,
			})
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Hour + 30*time.Second)
			_, err = queue.RunDue(ctx, clock.Now(), engine)
			Expect(err).NotTo(HaveOccurred())

			st, err := engine.BlockState()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.IsBlocking).To(BeTrue())
			Expect(st.BlockEndTime).To(BeTemporally("==", start.Add(45*time.Minute)))
		})
	})

	Describe("Daemon registry", func() {
		It("tracks the current process as alive", func() {
			Expect(db.Register(domain.Daemon{PID: os.Getpid(), Role: domain.RoleMonitor, AppVersion: "test"})).To(Succeed())

			alive, err := db.IsAlive(domain.RoleMonitor)
			Expect(err).NotTo(HaveOccurred())
			Expect(alive).To(BeTrue())

			entry, err := db.GetAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(entry.MonitorPID).To(Equal(os.Getpid()))
			Expect(entry.AppVersion).To(Equal("test"))

			Expect(db.Unregister(domain.RoleMonitor, os.Getpid())).To(Succeed())
			alive, err = db.IsAlive(domain.RoleMonitor)
			Expect(err).NotTo(HaveOccurred())
			Expect(alive).To(BeFalse())
		})
	})
})
