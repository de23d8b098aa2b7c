//go:build linux

package worker

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/devnoded/internal/device"
	"github.com/smazurov/devnoded/internal/nodeapply"
	"github.com/smazurov/devnoded/internal/recordstore"
	"github.com/smazurov/devnoded/internal/uevent"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestApplyResolvedCreatesNodeAndRecord(t *testing.T) {
	devRoot := t.TempDir()
	recordDir := t.TempDir()

	store, err := recordstore.New(recordDir, '!')
	if err != nil {
		t.Fatalf("recordstore.New: %v", err)
	}
	applier := nodeapply.New(devRoot)

	cls := device.NewFakeClass("sda", "block")
	rules := []device.Rule{{Kernel: "sda", Name: "disk/main", Symlink: "disk/by-alias/foo"}}

	ev := uevent.Event{Devpath: "/devices/pci0000:00/sda", Subsystem: "block", Major: "8", Minor: "0"}

	if err := applyResolved(cls, ev, "sda", rules, nil, store, applier, testLogger()); err != nil {
		t.Fatalf("applyResolved: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(devRoot, "disk/main")); err != nil {
		t.Errorf("expected node at disk/main: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(devRoot, "disk/by-alias/foo")); err != nil {
		t.Errorf("expected symlink at disk/by-alias/foo: %v", err)
	}

	rec, ok, err := store.Get(ev.Devpath)
	if err != nil || !ok {
		t.Fatalf("expected a record, got ok=%v err=%v", ok, err)
	}
	if rec.Name != "disk/main" {
		t.Errorf("record name = %q, want disk/main", rec.Name)
	}
}

func TestApplyResolvedSuppressedDeletesRecord(t *testing.T) {
	devRoot := t.TempDir()
	recordDir := t.TempDir()
	store, _ := recordstore.New(recordDir, '!')
	applier := nodeapply.New(devRoot)

	cls := device.NewFakeClass("sda", "block")
	rules := []device.Rule{{Kernel: "sda"}} // empty name + symlink => suppressed

	ev := uevent.Event{Devpath: "/devices/pci0000:00/sda", Subsystem: "block", Major: "8", Minor: "0"}
	if err := store.Put(ev.Devpath, "sda", recordstore.Record{Name: "disk/old"}); err != nil {
		t.Fatalf("store.Put: %v", err)
	}

	if err := applyResolved(cls, ev, "sda", rules, nil, store, applier, testLogger()); err != nil {
		t.Fatalf("applyResolved: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(devRoot, "sda")); !os.IsNotExist(err) {
		t.Errorf("expected no node for suppressed device, lstat err = %v", err)
	}
	if _, ok, err := store.Get(ev.Devpath); err != nil || ok {
		t.Errorf("expected the suppressed device's record to be deleted, got ok=%v err=%v", ok, err)
	}
}

func TestRunRemoveWithoutRecordIsNoop(t *testing.T) {
	recordDir := t.TempDir()
	store, _ := recordstore.New(recordDir, '!')
	applier := nodeapply.New(t.TempDir())

	ev := uevent.Event{Devpath: "/devices/virtual/never-seen", Subsystem: "block", Action: "remove"}
	if err := runRemove(ev, store, applier, testLogger()); err != nil {
		t.Fatalf("runRemove: %v", err)
	}
}

func TestRunRemoveDeletesNodeAndRecord(t *testing.T) {
	devRoot := t.TempDir()
	recordDir := t.TempDir()
	store, _ := recordstore.New(recordDir, '!')
	applier := nodeapply.New(devRoot)

	ev := uevent.Event{Devpath: "/devices/pci0000:00/sda", Subsystem: "block", Major: "8", Minor: "0"}
	rules := []device.Rule{{Kernel: "sda", Name: "disk/main"}}
	cls := device.NewFakeClass("sda", "block")
	if err := applyResolved(cls, ev, "sda", rules, nil, store, applier, testLogger()); err != nil {
		t.Fatalf("applyResolved: %v", err)
	}

	removeEv := ev
	removeEv.Action = "remove"
	if err := runRemove(removeEv, store, applier, testLogger()); err != nil {
		t.Fatalf("runRemove: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(devRoot, "disk/main")); !os.IsNotExist(err) {
		t.Errorf("expected node removed, lstat err = %v", err)
	}
	if _, ok, _ := store.Get(ev.Devpath); ok {
		t.Errorf("expected record deleted")
	}
}

func TestKernelNameFromDevpath(t *testing.T) {
	cases := map[string]string{
		"/devices/pci0000:00/sda":  "sda",
		"/devices/virtual/net/lo":  "lo",
		"noSlashHere":              "noSlashHere",
	}
	for in, want := range cases {
		if got := kernelNameFromDevpath(in); got != want {
			t.Errorf("kernelNameFromDevpath(%q) = %q, want %q", in, got, want)
		}
	}
}
