// Package infra implements the desktop adapters behind the domain interfaces:
// encrypted state, processes, usage journal, overlay, timers and launchd.
package infra

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/screentime/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes whose name or executable path matches
// pattern (case-insensitive). Packages like "com.example.game" are matched
// on their last component, which is how bundles name their executable.
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	needles := []string{strings.ToLower(pattern)}
	if i := strings.LastIndex(pattern, "."); i >= 0 && i < len(pattern)-1 {
		needles = append(needles, strings.ToLower(pattern[i+1:]))
	}
	self := int32(os.Getpid())

	var found []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue // process may have exited
		}
		exe, _ := p.Exe()
		if matchesAny(strings.ToLower(name), strings.ToLower(exe), needles) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

func matchesAny(name, exe string, needles []string) bool {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if name == n || strings.Contains(name, n) {
			return true
		}
		// .../Foo.app/Contents/MacOS/foo -> match on the bundle dir.
		if exe != "" && strings.Contains(filepath.Base(filepath.Dir(filepath.Dir(filepath.Dir(exe)))), n) {
			return true
		}
	}
	return false
}

// Terminate asks a process to exit with SIGTERM.
func (pm *ProcessManagerImpl) Terminate(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Terminate()
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence; EPERM means it exists but belongs to someone else.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
