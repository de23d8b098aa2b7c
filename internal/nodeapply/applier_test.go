//go:build linux

package nodeapply

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/devnoded/internal/device"
)

func TestCreateSymlinkRelativeTarget(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	if err := os.MkdirAll(filepath.Join(root, "disk/by-id"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sda"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	if err := a.createSymlink("disk/by-id/foo", "sda"); err != nil {
		t.Fatal(err)
	}

	target, err := os.Readlink(filepath.Join(root, "disk/by-id/foo"))
	if err != nil {
		t.Fatal(err)
	}
	if target != "../../sda" {
		t.Errorf("relative target = %q, want ../../sda", target)
	}
}

func TestCreateSymlinkReplacesStale(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	os.WriteFile(filepath.Join(root, "sda"), nil, 0644)
	os.WriteFile(filepath.Join(root, "sdb"), nil, 0644)

	if err := a.createSymlink("by-id/foo", "sda"); err != nil {
		t.Fatal(err)
	}
	if err := a.createSymlink("by-id/foo", "sdb"); err != nil {
		t.Fatal(err)
	}
	target, _ := os.Readlink(filepath.Join(root, "by-id/foo"))
	if target != "../sdb" {
		t.Errorf("target after replace = %q, want ../sdb", target)
	}
}

func TestApplyNetSubsystemRenamesInsteadOfNode(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	var renamed [2]string
	renamer := fakeRenamer(func(old, new string) error {
		renamed = [2]string{old, new}
		return nil
	})

	resolved := device.Resolved{Name: "wan0", Owner: "root", Group: "root", Mode: "0600"}
	if err := a.Apply(resolved, "net", "eth0", 0, 0, renamer); err != nil {
		t.Fatal(err)
	}
	if renamed[0] != "eth0" || renamed[1] != "wan0" {
		t.Errorf("rename = %v, want [eth0 wan0]", renamed)
	}
	if _, err := os.Stat(filepath.Join(root, "wan0")); err == nil {
		t.Error("net subsystem must not create a device node")
	}
}

func TestApplyNetSubsystemNoRenameWhenNameUnchanged(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	resolved := device.Resolved{Name: "eth0"}
	if err := a.Apply(resolved, "net", "eth0", 0, 0, nil); err != nil {
		t.Fatalf("expected no-op when resolved name matches kernel name, got %v", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	resolved := device.Resolved{Name: "sdX", Symlinks: []string{"disk/by-id/foo"}}
	if err := a.Remove(resolved, "block"); err != nil {
		t.Errorf("remove of nonexistent node/symlinks should be a no-op, got %v", err)
	}
}

type fakeRenamer func(old, new string) error

func (f fakeRenamer) Rename(old, new string) error { return f(old, new) }
