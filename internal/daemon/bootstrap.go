package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// Spawner starts a detached daemon process for role.
type Spawner func(role domain.DaemonRole, args ...string) error

// StartDaemon self-execs `daemon --role <role> [args...]` detached from the
// caller's session. The child outlives the CLI invocation that spawned it.
func StartDaemon(role domain.DaemonRole, args ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	return StartDaemonWithPath(executable, role, args...)
}

// StartDaemonWithPath is StartDaemon with an explicit binary.
func StartDaemonWithPath(executable string, role domain.DaemonRole, args ...string) error {
	cmd := exec.Command(executable, DaemonArgs(role, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s daemon: %w", role, err)
	}
	// The child is not waited on; release it so no zombie is kept.
	return cmd.Process.Release()
}

// DaemonArgs builds the hidden daemon command line.
func DaemonArgs(role domain.DaemonRole, args ...string) []string {
	out := []string{"daemon", "--role", string(role)}
	return append(out, args...)
}
