// Package eventqueue implements the ordering queue (spec §4.H): events are
// held until released to the execution queue in strict ascending sequence
// number order, with a timeout that forces release around a hole so a
// single missing sequence number cannot stall the daemon forever.
package eventqueue

import (
	"time"

	"github.com/smazurov/devnoded/internal/uevent"
)

// Options configures a Queue.
type Options struct {
	// ExpectedSeqnum seeds the next sequence number the queue expects;
	// spec §4.H says this is read from the environment at startup.
	ExpectedSeqnum uint64
	// EventTimeout is the steady-state hole timeout.
	EventTimeout time.Duration
	// InitPhaseTimeout is the clamped timeout used during InitPhaseWindow
	// after the first event is ever queued, so early gaps don't stall boot.
	InitPhaseTimeout time.Duration
	InitPhaseWindow  time.Duration
	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

// Queue holds pending (not-yet-released) events sorted ascending by
// sequence number; events whose ordering constraint has been satisfied are
// handed back to the caller by ManagementPass.
type Queue struct {
	opts           Options
	pending        []uevent.Event
	expectedSeqnum uint64
	firstInsertAt  time.Time
	seen           map[uint64]struct{}
}

// New creates a Queue. No release callback is stored — callers drain
// released events from ManagementPass's return value, keeping this package
// side-effect free and easy to test.
func New(opts Options) *Queue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		opts:           opts,
		expectedSeqnum: opts.ExpectedSeqnum,
		seen:           make(map[uint64]struct{}),
	}
}

// InsertResult reports what Insert did with an event.
type InsertResult int

const (
	InsertedOrdering  InsertResult = iota // queued for ordering
	InsertedBypass                        // seqnum == 0: caller should release immediately
	InsertedDuplicate                     // duplicate seqnum: silently dropped
)

// Insert places ev into the ordering queue, or reports that it should
// bypass ordering (seqnum == 0) or was a duplicate (spec §4.H, §3
// invariant: a duplicate seqnum never enters the ordering queue).
func (q *Queue) Insert(ev uevent.Event) InsertResult {
	if ev.Seqnum == 0 {
		return InsertedBypass
	}
	if _, dup := q.seen[ev.Seqnum]; dup {
		return InsertedDuplicate
	}

	ev.QueueTime = q.opts.Now()
	if q.firstInsertAt.IsZero() {
		q.firstInsertAt = ev.QueueTime
	}
	q.seen[ev.Seqnum] = struct{}{}

	// Walk from the tail toward the head, as spec §4.H specifies, so the
	// common case (events arriving roughly in order) is O(1).
	i := len(q.pending)
	for i > 0 && q.pending[i-1].Seqnum > ev.Seqnum {
		i--
	}
	q.pending = append(q.pending, uevent.Event{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = ev
	return InsertedOrdering
}

// Len reports how many events are currently held for ordering.
func (q *Queue) Len() int { return len(q.pending) }

// ManagementPass releases every leading event that is either next-expected
// or has aged past the timeout, advancing expectedSeqnum accordingly, and
// returns the released events in release order plus the duration until the
// next pending event's timeout fires (0 if nothing remains pending).
func (q *Queue) ManagementPass() (released []uevent.Event, nextWake time.Duration) {
	now := q.opts.Now()
	for len(q.pending) > 0 {
		head := q.pending[0]
		if head.Seqnum == q.expectedSeqnum {
			released = append(released, head)
			delete(q.seen, head.Seqnum)
			q.pending = q.pending[1:]
			q.expectedSeqnum++
			continue
		}

		timeout := q.effectiveTimeout(now)
		age := now.Sub(head.QueueTime)
		if age >= timeout {
			released = append(released, head)
			delete(q.seen, head.Seqnum)
			q.pending = q.pending[1:]
			q.expectedSeqnum = head.Seqnum + 1
			continue
		}
		break
	}

	if len(q.pending) == 0 {
		return released, 0
	}
	timeout := q.effectiveTimeout(now)
	remaining := timeout - now.Sub(q.pending[0].QueueTime)
	if remaining < 0 {
		remaining = 0
	}
	return released, remaining
}

// effectiveTimeout clamps the event timeout during the initialization
// phase: the window starts at the first event ever queued, not at daemon
// startup, matching spec §4.H's "first N monotonic seconds after the first
// insertion" wording.
func (q *Queue) effectiveTimeout(now time.Time) time.Duration {
	if q.opts.InitPhaseWindow > 0 && !q.firstInsertAt.IsZero() &&
		now.Sub(q.firstInsertAt) < q.opts.InitPhaseWindow {
		return q.opts.InitPhaseTimeout
	}
	return q.opts.EventTimeout
}

// ExpectedSeqnum returns the current expected sequence number, mainly for
// diagnostics and tests.
func (q *Queue) ExpectedSeqnum() uint64 { return q.expectedSeqnum }
