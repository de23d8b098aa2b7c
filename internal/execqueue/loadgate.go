package execqueue

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// LoadGate implements spec §4.I bullet 1: the execution pass stalls
// entirely once both the system-wide and the daemon's own session running
// task counts meet the configured cap.
type LoadGate struct {
	Cap int
	fs  procfs.FS
}

// NewLoadGate opens the default procfs mount for session-scoped scans.
// Scanning all of /proc for session membership is the one place this gate
// reaches for prometheus/procfs directly; the global running count comes
// from /proc/loadavg's running/total field, which procfs.FS does not
// expose, so that one line is read directly (see DESIGN.md).
func NewLoadGate(cap int) (*LoadGate, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("execqueue: open procfs: %w", err)
	}
	return &LoadGate{Cap: cap, fs: fs}, nil
}

// Allow reports whether the execution pass may proceed this cycle.
func (g *LoadGate) Allow() (bool, error) {
	if g.Cap <= 0 {
		return true, nil
	}
	running, err := systemRunningTasks()
	if err != nil {
		return true, fmt.Errorf("execqueue: read system load: %w", err)
	}
	if running < g.Cap {
		return true, nil
	}

	sid, err := unix.Getsid(0)
	if err != nil {
		return true, fmt.Errorf("execqueue: getsid: %w", err)
	}
	sessionRunning, err := g.sessionRunningTasks(int(sid), g.Cap+10)
	if err != nil {
		return true, fmt.Errorf("execqueue: scan session tasks: %w", err)
	}
	return sessionRunning < g.Cap, nil
}

// systemRunningTasks parses the "runnable/total" field of /proc/loadavg.
func systemRunningTasks() (int, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 4 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format: %q", data)
	}
	runTotal := strings.SplitN(fields[3], "/", 2)
	if len(runTotal) != 2 {
		return 0, fmt.Errorf("unexpected runnable/total field: %q", fields[3])
	}
	return strconv.Atoi(runTotal[0])
}

// sessionRunningTasks scans /proc for processes in session sid with state
// "R", stopping once limit matches are found (spec: "bounded by cap+10").
func (g *LoadGate) sessionRunningTasks(sid, limit int) (int, error) {
	procs, err := g.fs.AllProcs()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue // process exited mid-scan; not an error for this gate
		}
		if stat.Session != sid {
			continue
		}
		if stat.State == "R" {
			count++
			if count >= limit {
				break
			}
		}
	}
	return count, nil
}
