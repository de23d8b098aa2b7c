package execqueue

import "testing"

func TestRunningSetIdenticalCollision(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/devices/pci/usb1", pid: 1})
	if !s.collision("/devices/pci/usb1") {
		t.Error("identical devpath must collide")
	}
}

func TestRunningSetAncestorCollision(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/x/y", pid: 1})
	if !s.collision("/x/y/z") {
		t.Error("descendant of a running devpath must collide")
	}
}

func TestRunningSetDescendantCollision(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/x/y/z", pid: 1})
	if !s.collision("/x/y") {
		t.Error("ancestor of a running devpath must collide")
	}
}

func TestRunningSetUnrelatedNoCollision(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/x/y", pid: 1})
	if s.collision("/a/b") {
		t.Error("unrelated subtree must not collide")
	}
}

func TestRunningSetRemoveUnblocksDescendant(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/x/y", pid: 1})
	if !s.collision("/x/y/z") {
		t.Fatal("expected collision before reap")
	}
	s.remove(1)
	if s.collision("/x/y/z") {
		t.Error("collision must clear once the ancestor worker is reaped")
	}
}

func TestRunningSetPhysDevPathCollision(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/a", physDevPath: "/devices/phys1", pid: 1})
	if !s.physDevPathCollision("/devices/phys1") {
		t.Error("matching physdevpath must collide")
	}
	if s.physDevPathCollision("/devices/phys2") {
		t.Error("distinct physdevpath must not collide")
	}
}

func TestRunningSetCountForDevpath(t *testing.T) {
	s := newRunningSet()
	s.insert(&runningEntry{devpath: "/a", pid: 1})
	if s.countForDevpath("/a") != 1 {
		t.Errorf("count = %d, want 1", s.countForDevpath("/a"))
	}
	if s.countForDevpath("/b") != 0 {
		t.Errorf("count = %d, want 0", s.countForDevpath("/b"))
	}
}
