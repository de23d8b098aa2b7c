//go:build linux

package execqueue

import (
	"fmt"
	"log/slog"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/smazurov/devnoded/internal/uevent"
)

// ProcessForker execs the worker binary per spec §4.I/§6: argv = [bin,
// subsystem], the event's environment block plus UDEVD_EVENT=1 and
// UDEV_LOG=<priority>, with the child's scheduling priority lowered so a
// burst of workers doesn't starve the daemon's own readiness loop. Modeled
// on the teacher's os/exec-based process lifecycle in its internal/process.
type ProcessForker struct {
	BinPath     string
	Niceness    int
	LogPriority func() string
	Logger      *slog.Logger
	// ConfigPath is passed through as DEVNODED_CONFIG so the worker can
	// reload the same rule/permission set the daemon was started with;
	// ev.WithWorkerEnv replaces the environment wholesale, so anything the
	// worker needs beyond the event block must be added here.
	ConfigPath string
}

// Fork starts the worker and returns its pid immediately; the caller reaps
// it later via SIGCHLD.
func (f *ProcessForker) Fork(ev uevent.Event) (int, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	priority := "4"
	if f.LogPriority != nil {
		priority = f.LogPriority()
	}

	cmd := exec.Command(f.BinPath, ev.Subsystem)
	cmd.Env = ev.WithWorkerEnv(priority)
	if f.ConfigPath != "" {
		cmd.Env = append(cmd.Env, "DEVNODED_CONFIG="+f.ConfigPath)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("execqueue: start worker for %s: %w", ev.Devpath, err)
	}
	pid := cmd.Process.Pid

	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, f.Niceness); err != nil {
		logger.Warn("failed to lower worker priority", "pid", pid, "devpath", ev.Devpath, "error", err)
	}

	// Detach: the daemon reaps by pid via wait4 in its SIGCHLD handler, not
	// through cmd.Wait, since cmd itself is discarded here.
	go func() {
		_ = cmd.Process.Release()
	}()

	logger.Debug("forked worker", "pid", pid, "devpath", ev.Devpath, "subsystem", ev.Subsystem, "correlation_id", ev.CorrelationID)
	return pid, nil
}
