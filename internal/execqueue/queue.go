// Package execqueue implements the execution queue (spec §4.I): load
// throttling, devpath-ancestry collision exclusion, and fork/reap of the
// per-event worker process.
package execqueue

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/smazurov/devnoded/internal/uevent"
)

// Forker execs the worker binary for ev and returns its pid. Implementations
// lower the child's scheduling priority and set argv/env per spec §4.I/§6.
type Forker interface {
	Fork(ev uevent.Event) (pid int, err error)
}

// Gate reports whether the execution pass may proceed this cycle, per the
// system/session load check of spec §4.I bullet 1. *LoadGate implements it;
// tests supply a fake.
type Gate interface {
	Allow() (bool, error)
}

// Options configures a Queue.
type Options struct {
	// MaxChildsRunning caps the total number of simultaneously running
	// workers (UDEVD_MAX_CHILDS_RUNNING).
	MaxChildsRunning int
	// MaxChildsPerDevpath additionally caps concurrently running workers
	// sharing one devpath; the collision gate already forbids more than
	// one identical/ancestor/descendant devpath from running at once, so
	// this only bites when callers intentionally allow multiple workers
	// per exact devpath (spec §4.I bullet 2, see DESIGN.md Open Question).
	MaxChildsPerDevpath int
	LoadGate            Gate
	Limiter             *rate.Limiter
	Forker              Forker
	Now                 func() time.Time
}

// ForkResult reports the outcome of attempting to fork a worker for ev.
type ForkResult struct {
	Event uevent.Event
	PID   int
	Err   error
}

// ReapResult reports a reaped worker's event and how long it ran.
type ReapResult struct {
	Devpath string
	PID     int
	Age     time.Duration
}

// Queue holds events that have cleared ordering and are waiting for the
// collision/load gates before a worker is forked.
type Queue struct {
	opts     Options
	runnable []uevent.Event
	running  *runningSet
	stopped  bool
}

// New creates a Queue.
func New(opts Options) *Queue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{opts: opts, running: newRunningSet()}
}

// Enqueue appends ev to the runnable queue; the event queue has already
// established ordering before handing it here.
func (q *Queue) Enqueue(ev uevent.Event) {
	q.runnable = append(q.runnable, ev)
}

// Stop disables forking until Start is called (helper control message
// STOP_EXEC_QUEUE, spec §4.K); pending and future events still enqueue.
func (q *Queue) Stop() { q.stopped = true }

// Start re-enables forking and should be followed by an immediate Pass
// (START_EXEC_QUEUE re-runs the execution pass per spec §4.I).
func (q *Queue) Start() { q.stopped = false }

func (q *Queue) Stopped() bool { return q.stopped }

// SetMaxChildsRunning updates the global concurrency cap in response to a
// SET_MAX_CHILDS control message (spec §4.K).
func (q *Queue) SetMaxChildsRunning(n int) { q.opts.MaxChildsRunning = n }

// Len reports how many events are waiting for a fork slot.
func (q *Queue) Len() int { return len(q.runnable) }

// Running reports how many workers are currently running.
func (q *Queue) Running() int { return q.running.count }

// Pass evaluates every runnable event against the load gate, the collision
// gate, and the concurrency caps, forking what it can and leaving the rest
// queued in order (spec §4.I).
func (q *Queue) Pass() ([]ForkResult, error) {
	if q.stopped {
		return nil, nil
	}
	if q.opts.LoadGate != nil {
		allow, err := q.opts.LoadGate.Allow()
		if err != nil {
			return nil, err
		}
		if !allow {
			return nil, nil // system/session load at cap: stall the whole pass
		}
	}

	var forked []ForkResult
	remaining := q.runnable[:0:0]
	for _, ev := range q.runnable {
		if blocked := q.blocked(ev); blocked {
			remaining = append(remaining, ev)
			continue
		}
		if q.opts.Limiter != nil && !q.opts.Limiter.Allow() {
			remaining = append(remaining, ev)
			continue
		}

		pid, err := q.opts.Forker.Fork(ev)
		if err != nil {
			forked = append(forked, ForkResult{Event: ev, Err: err})
			continue
		}
		q.running.insert(&runningEntry{
			devpath:     ev.Devpath,
			physDevPath: ev.PhysDevPath,
			pid:         pid,
			startedAt:   q.opts.Now(),
		})
		forked = append(forked, ForkResult{Event: ev, PID: pid})
	}
	q.runnable = remaining
	return forked, nil
}

// blocked reports whether ev must stay queued this pass. Events carrying a
// timeout override are immune to the collision gate (spec §4.I bullet 3);
// the global running cap always applies.
func (q *Queue) blocked(ev uevent.Event) bool {
	if q.opts.MaxChildsRunning > 0 && q.running.count >= q.opts.MaxChildsRunning {
		return true
	}
	if ev.HasTimeout {
		return false
	}
	if q.running.collision(ev.Devpath) {
		return true
	}
	if ev.Action == "add" && q.running.physDevPathCollision(ev.PhysDevPath) {
		return true
	}
	if q.opts.MaxChildsPerDevpath > 0 && q.running.countForDevpath(ev.Devpath) >= q.opts.MaxChildsPerDevpath {
		return true
	}
	return false
}

// Reap removes pid from the running set, returning the devpath/age it was
// tracking under. Call once per pid from a non-blocking SIGCHLD wait loop
// (spec §4.I: "log its age, drop it, and re-arm the execution pass").
func (q *Queue) Reap(pid int) (ReapResult, bool) {
	entry := q.running.remove(pid)
	if entry == nil {
		return ReapResult{}, false
	}
	return ReapResult{Devpath: entry.devpath, PID: pid, Age: q.opts.Now().Sub(entry.startedAt)}, true
}
