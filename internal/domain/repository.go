package domain

import (
	"context"
	"time"
)

// Clock abstracts wall time so state transitions can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// KeyValueStore is the durable, process-wide shared state.
// All writes are last-writer-wins; CompareAndSwap is the only conditional write.
// Implementations: SQLCipher database (infra.StateDB), in-memory (infra.MemoryStore).
type KeyValueStore interface {
	// Get returns the value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set writes a single key.
	Set(key, value string) error

	// SetMany writes all keys in one atomic step.
	SetMany(values map[string]string) error

	// Delete removes keys; missing keys are ignored.
	Delete(keys ...string) error

	// Keys lists keys with the given prefix.
	Keys(prefix string) ([]string, error)

	// CompareAndSwap sets key to newValue only if its current value is oldValue.
	// A missing key compares equal to "".
	CompareAndSwap(key, oldValue, newValue string) (bool, error)

	// CompareAndSwapWith is CompareAndSwap that also writes values in the same
	// atomic step when, and only when, the swap wins.
	CompareAndSwapWith(key, oldValue, newValue string, values map[string]string) (bool, error)
}

// UsageStatsProvider is the OS usage-tracking facility.
type UsageStatsProvider interface {
	// QueryEvents returns the event stream in [begin, end], oldest first.
	QueryEvents(ctx context.Context, begin, end time.Time) ([]UsageEvent, error)

	// QueryUsageStats returns per-package aggregates for [begin, end].
	QueryUsageStats(ctx context.Context, interval UsageInterval, begin, end time.Time) ([]UsageStat, error)
}

// Overlay is the blocking UI supplied by the integrating application.
// The core never inspects how it renders.
type Overlay interface {
	// Render attaches the overlay for target.
	Render(ctx context.Context, target OverlayTarget) error

	// Dismiss detaches the overlay.
	Dismiss(ctx context.Context) error

	// Attached reports whether the overlay is currently attached to a window.
	Attached() bool
}

// DeviceState reports device conditions that suppress the overlay.
type DeviceState interface {
	IsLocked(ctx context.Context) (bool, error)
}

// PermissionChecker queries and requests OS grants.
type PermissionChecker interface {
	// Status returns the current grant state.
	Status(ctx context.Context, kind PermissionKind) PermissionStatus

	// Request opens the platform flow for the grant and reports whether it was launched.
	Request(ctx context.Context, kind PermissionKind) (bool, error)
}

// Notifier shows and dismisses the persistent "paused" notification.
type Notifier interface {
	ShowPaused(ctx context.Context, notice PauseNotice) error
	DismissPaused(ctx context.Context) error
}

// AppCatalog enumerates installed applications.
type AppCatalog interface {
	InstalledApps(ctx context.Context, ignoreSystemApps bool) ([]AppInfo, error)

	// Lookup returns metadata for a single package, or nil if unknown.
	Lookup(ctx context.Context, pkg string) (*AppInfo, error)
}

// ServiceHost owns the process lifecycle of the blocking loop.
// Implementations: in-process goroutine (daemon.LocalHost), detached process (daemon.ProcessHost).
type ServiceHost interface {
	// Start launches (or relaunches) the blocking loop.
	Start(ctx context.Context, opts StartOptions) error

	// Stop ends the blocking loop without touching persisted state.
	Stop(ctx context.Context) error

	// IsRunning reports whether the blocking loop's host is alive.
	IsRunning() bool
}

// TaskScheduler registers keyed one-shot triggers.
// Implementations: in-process alarms (infra.TimerScheduler), persisted queue (infra.TaskQueue).
type TaskScheduler interface {
	// Schedule registers task, replacing any task with the same key.
	Schedule(task Task) error

	// Cancel removes the task registered under key, if any.
	Cancel(key string) error

	// CancelAll removes every registered task.
	CancelAll() error
}

// TaskHandler executes a fired task. Handlers must be idempotent.
type TaskHandler interface {
	HandleTask(ctx context.Context, task Task)
}

// TaskHandlerFunc adapts a function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context, task Task)

// HandleTask calls f.
func (f TaskHandlerFunc) HandleTask(ctx context.Context, task Task) { f(ctx, task) }

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Terminate asks a process to exit (SIGTERM).
	Terminate(pid int) error

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
type DaemonRegistry interface {
	// Register saves current daemon's PID.
	Register(daemon Daemon) error

	// Unregister removes the role if it is still owned by pid.
	Unregister(role DaemonRole, pid int) error

	// Lookup returns the registered daemon for role.
	Lookup(role DaemonRole) (*Daemon, error)

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// IsAlive checks if the daemon registered for role is running via PID.
	IsAlive(role DaemonRole) (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// LaunchAgentManager installs the boot job that runs recovery after login.
type LaunchAgentManager interface {
	// Install writes the plist for execPath and loads it.
	Install(execPath string) error

	// Uninstall unloads and removes the plist.
	Uninstall() error

	// IsInstalled checks if the plist exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed plist differs from the expected content.
	NeedsUpdate(execPath string) bool

	// Update rewrites and reloads the plist.
	Update(execPath string) error
}
