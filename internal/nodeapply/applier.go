//go:build linux

// Package nodeapply creates, updates, and removes the device nodes and
// symlinks a resolved device maps to (spec §4.F): mknod, chmod, chown,
// partition siblings, relative symlinks, and network-interface renames.
package nodeapply

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/smazurov/devnoded/internal/device"
)

// InterfaceRenamer issues the kernel's interface-rename request for a
// network device. It is an interface because the actual ioctl/netlink call
// is a thin OS primitive best kept swappable for tests.
type InterfaceRenamer interface {
	Rename(oldName, newName string) error
}

// Applier materializes a Resolved device under root (normally "/dev").
type Applier struct {
	Root string
}

// New creates an Applier rooted at root.
func New(root string) *Applier {
	if root == "" {
		root = "/dev"
	}
	return &Applier{Root: root}
}

// Apply creates or updates the device node (or renames the network
// interface) named by resolved, and (re)creates its symlinks and partition
// siblings. kernelName is the device's original kernel name, needed to
// detect whether a net-subsystem rename is actually required.
func (a *Applier) Apply(resolved device.Resolved, subsystem, kernelName string, major, minor int, renamer InterfaceRenamer) error {
	if subsystem == "net" {
		if resolved.Name != "" && resolved.Name != kernelName {
			if renamer == nil {
				return fmt.Errorf("nodeapply: net interface rename requested but no renamer configured")
			}
			return renamer.Rename(kernelName, resolved.Name)
		}
		return nil
	}

	nodePath := filepath.Join(a.Root, resolved.Name)
	isBlock := subsystem == "block"

	if err := a.createOrPreserveNode(nodePath, isBlock, major, minor); err != nil {
		return err
	}
	if err := a.applyPermissions(nodePath, resolved.Owner, resolved.Group, resolved.Mode); err != nil {
		return err
	}

	if resolved.Partitions > 0 {
		if err := a.createPartitions(resolved, isBlock, major, minor); err != nil {
			return err
		}
	}

	for _, sym := range resolved.Symlinks {
		if err := a.createSymlink(sym, resolved.Name); err != nil {
			return err
		}
	}
	return nil
}

// Remove unlinks the device node (or a dangling symlink target) and its
// associated symlinks for a record being undone by a remove event.
func (a *Applier) Remove(resolved device.Resolved, subsystem string) error {
	if subsystem == "net" {
		return nil
	}
	for _, sym := range resolved.Symlinks {
		linkPath := filepath.Join(a.Root, sym)
		if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("nodeapply: remove symlink %s: %w", linkPath, err)
		}
	}
	nodePath := filepath.Join(a.Root, resolved.Name)
	if err := os.Remove(nodePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("nodeapply: remove node %s: %w", nodePath, err)
	}
	return nil
}

func (a *Applier) createOrPreserveNode(nodePath string, isBlock bool, major, minor int) error {
	wantDev := unix.Mkdev(uint32(major), uint32(minor))
	if st, err := os.Lstat(nodePath); err == nil {
		if sameTypeAndDev(st, isBlock, wantDev) {
			return nil // preserve: only mode/owner get re-applied by the caller
		}
		if err := os.Remove(nodePath); err != nil {
			return fmt.Errorf("nodeapply: unlink stale node %s: %w", nodePath, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(nodePath), 0755); err != nil {
		return fmt.Errorf("nodeapply: mkdir parent of %s: %w", nodePath, err)
	}

	mode := uint32(0600)
	if isBlock {
		mode |= unix.S_IFBLK
	} else {
		mode |= unix.S_IFCHR
	}
	if err := unix.Mknod(nodePath, mode, int(wantDev)); err != nil {
		return fmt.Errorf("nodeapply: mknod %s: %w", nodePath, err)
	}
	return nil
}

func (a *Applier) applyPermissions(nodePath, owner, group, modeStr string) error {
	mode, err := strconv.ParseUint(modeStr, 8, 32)
	if err != nil {
		mode = 0600
	}
	if err := os.Chmod(nodePath, os.FileMode(mode)); err != nil {
		return fmt.Errorf("nodeapply: chmod %s: %w", nodePath, err)
	}

	if owner == "root" && group == "root" {
		return nil
	}
	uid, gid, err := resolveOwnership(owner, group)
	if err != nil {
		return fmt.Errorf("nodeapply: resolve owner/group for %s: %w", nodePath, err)
	}
	if err := os.Chown(nodePath, uid, gid); err != nil {
		return fmt.Errorf("nodeapply: chown %s: %w", nodePath, err)
	}
	return nil
}

func resolveOwnership(owner, group string) (uid, gid int, err error) {
	uid = -1
	gid = -1
	if owner != "" && owner != "root" {
		u, err := user.Lookup(owner)
		if err != nil {
			return 0, 0, err
		}
		uid, _ = strconv.Atoi(u.Uid)
	}
	if group != "" && group != "root" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, err
		}
		gid, _ = strconv.Atoi(g.Gid)
	}
	return uid, gid, nil
}

func sameTypeAndDev(st os.FileInfo, isBlock bool, wantDev uint64) bool {
	sys, ok := st.Sys().(*unix.Stat_t)
	if !ok {
		return false
	}
	wantMode := uint32(unix.S_IFCHR)
	if isBlock {
		wantMode = unix.S_IFBLK
	}
	if sys.Mode&unix.S_IFMT != wantMode {
		return false
	}
	return uint64(sys.Rdev) == wantDev
}

// createPartitions creates <name>1..<name>N sibling nodes with minor
// offsets 1..N, where N is resolved.Partitions. N is not capped by any
// "range" sysfs attribute; all N siblings are created.
func (a *Applier) createPartitions(resolved device.Resolved, isBlock bool, major, minor int) error {
	n := resolved.Partitions
	for i := 1; i <= n; i++ {
		partName := fmt.Sprintf("%s%d", resolved.Name, i)
		partPath := filepath.Join(a.Root, partName)
		if err := a.createOrPreserveNode(partPath, isBlock, major, minor+i); err != nil {
			return err
		}
		if err := a.applyPermissions(partPath, resolved.Owner, resolved.Group, resolved.Mode); err != nil {
			return err
		}
	}
	return nil
}

// createSymlink computes a relative path from the symlink's own directory
// to the target node under Root and creates it, replacing any prior
// symlink at that path.
func (a *Applier) createSymlink(symName, targetName string) error {
	linkPath := filepath.Join(a.Root, symName)
	rel, err := relativeSymlinkTarget(filepath.Dir(linkPath), filepath.Join(a.Root, targetName))
	if err != nil {
		return fmt.Errorf("nodeapply: compute relative target for %s: %w", symName, err)
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return fmt.Errorf("nodeapply: mkdir parent of symlink %s: %w", linkPath, err)
	}
	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("nodeapply: unlink stale symlink %s: %w", linkPath, err)
	}
	if err := os.Symlink(rel, linkPath); err != nil {
		return fmt.Errorf("nodeapply: symlink %s -> %s: %w", linkPath, rel, err)
	}
	return nil
}

// relativeSymlinkTarget finds the shortest shared prefix of fromDir and
// target, then builds a "../"-hop-up-then-down relative path.
func relativeSymlinkTarget(fromDir, target string) (string, error) {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		return "", err
	}
	return rel, nil
}

// CleanEmptyDirs removes any now-empty directories a removed symlink left
// behind under root, walking upward from dir until it is non-empty or
// equals root.
func CleanEmptyDirs(root, dir string) {
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
