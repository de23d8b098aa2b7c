package eventqueue

import (
	"testing"
	"time"

	"github.com/smazurov/devnoded/internal/uevent"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func ev(seqnum uint64) uevent.Event { return uevent.Event{Seqnum: seqnum, Devpath: "/devices/x"} }

func TestInsertInOrderReleasesImmediately(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New(Options{ExpectedSeqnum: 10, EventTimeout: time.Second, Now: clock.now})

	q.Insert(ev(10))
	q.Insert(ev(11))
	q.Insert(ev(12))

	released, wake := q.ManagementPass()
	if len(released) != 3 {
		t.Fatalf("released = %d, want 3", len(released))
	}
	for i, want := range []uint64{10, 11, 12} {
		if released[i].Seqnum != want {
			t.Errorf("released[%d].Seqnum = %d, want %d", i, released[i].Seqnum, want)
		}
	}
	if wake != 0 {
		t.Errorf("wake = %v, want 0 (queue drained)", wake)
	}
	if q.ExpectedSeqnum() != 13 {
		t.Errorf("ExpectedSeqnum = %d, want 13", q.ExpectedSeqnum())
	}
}

func TestHoleWithTimeoutReleasesAfterDeadline(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New(Options{ExpectedSeqnum: 10, EventTimeout: 3 * time.Second, Now: clock.now})

	q.Insert(ev(11)) // hole: 10 never arrives

	released, wake := q.ManagementPass()
	if len(released) != 0 {
		t.Fatalf("released early = %v, want none", released)
	}
	if wake != 3*time.Second {
		t.Errorf("wake = %v, want 3s", wake)
	}

	clock.advance(3 * time.Second)
	released, _ = q.ManagementPass()
	if len(released) != 1 || released[0].Seqnum != 11 {
		t.Fatalf("released after timeout = %v, want [11]", released)
	}
	if q.ExpectedSeqnum() != 12 {
		t.Errorf("ExpectedSeqnum = %d, want 12", q.ExpectedSeqnum())
	}
}

func TestDuplicateSeqnumDropped(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New(Options{ExpectedSeqnum: 10, EventTimeout: time.Second, Now: clock.now})

	if res := q.Insert(ev(10)); res != InsertedOrdering {
		t.Fatalf("first insert = %v, want InsertedOrdering", res)
	}
	if res := q.Insert(ev(10)); res != InsertedDuplicate {
		t.Fatalf("duplicate insert = %v, want InsertedDuplicate", res)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 (duplicate must not be queued)", q.Len())
	}
}

func TestZeroSeqnumBypassesOrdering(t *testing.T) {
	q := New(Options{ExpectedSeqnum: 10, EventTimeout: time.Second})
	if res := q.Insert(ev(0)); res != InsertedBypass {
		t.Fatalf("insert seqnum 0 = %v, want InsertedBypass", res)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0 (bypassed event must not be queued)", q.Len())
	}
}

func TestHoleReleaseUnblocksFollowingRun(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New(Options{ExpectedSeqnum: 10, EventTimeout: 2 * time.Second, Now: clock.now})

	q.Insert(ev(11))
	q.Insert(ev(12))
	clock.advance(2 * time.Second)

	released, wake := q.ManagementPass()
	if len(released) != 2 {
		t.Fatalf("released = %v, want [11 12]", released)
	}
	if released[0].Seqnum != 11 || released[1].Seqnum != 12 {
		t.Errorf("release order = %v", released)
	}
	if wake != 0 {
		t.Errorf("wake = %v, want 0", wake)
	}
}

func TestInitPhaseClampsTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New(Options{
		ExpectedSeqnum:   10,
		EventTimeout:     30 * time.Second,
		InitPhaseTimeout: 1 * time.Second,
		InitPhaseWindow:  5 * time.Second,
		Now:              clock.now,
	})

	q.Insert(ev(11))
	clock.advance(1 * time.Second)

	released, _ := q.ManagementPass()
	if len(released) != 1 {
		t.Fatalf("released = %v, want [11] under clamped init-phase timeout", released)
	}
}

func TestInitPhaseWindowExpiresBackToSteadyTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	q := New(Options{
		ExpectedSeqnum:   10,
		EventTimeout:     10 * time.Second,
		InitPhaseTimeout: 1 * time.Second,
		InitPhaseWindow:  2 * time.Second,
		Now:              clock.now,
	})

	q.Insert(ev(10)) // starts the init-phase window, released immediately (matches expected)
	q.ManagementPass()

	clock.advance(3 * time.Second) // past InitPhaseWindow
	q.Insert(ev(12))                // hole at 11

	released, wake := q.ManagementPass()
	if len(released) != 0 {
		t.Fatalf("released = %v, want none (steady timeout not yet elapsed)", released)
	}
	if wake != 10*time.Second {
		t.Errorf("wake = %v, want 10s (steady timeout, init phase window elapsed)", wake)
	}
}
