package daemon

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/process"
)

// Alive reports whether pid refers to a live process. A zombie counts
// as dead: the daemon is reparented to init, which reaps it, so a
// lingering Z state only means the reap has not happened yet.
func Alive(pid int) bool {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := proc.Stat()
	if err != nil {
		return false
	}
	return stat.State != "Z"
}

// EnsureStopped escalates from SIGTERM to SIGKILL, re-checking
// liveness after each step. A process that survives both is a final
// failure; there is no further escalation.
func EnsureStopped(pid int, grace time.Duration) error {
	if !Alive(pid) {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		// gone between the liveness check and now
		return nil
	}
	if err := p.Terminate(); err == nil {
		if waitGone(pid, grace) {
			return nil
		}
	}
	if err := p.Kill(); err == nil {
		if waitGone(pid, grace) {
			return nil
		}
	}
	return fmt.Errorf("process %d survived SIGTERM and SIGKILL", pid)
}

func waitGone(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !Alive(pid)
}
