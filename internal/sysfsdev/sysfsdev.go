//go:build linux

// Package sysfsdev adapts the real /sys filesystem to the device.SysfsDevice
// and device.ClassDevice interfaces the rule matcher and resolver consume
// (spec §1 Non-goals: the core itself "does not implement sysfs ... it
// consumes an abstract ... sysfs query interface" — this package is that
// concrete implementation, grounded the way internal/led reads board sysfs
// attributes with os.ReadFile/os.Stat).
package sysfsdev

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/devnoded/internal/device"
)

// Sysfs implements device.SysfsDevice over a real sysfs device directory.
type Sysfs struct {
	path string
}

// Open returns a Sysfs rooted at the device's /sys/devices/... path.
func Open(path string) *Sysfs { return &Sysfs{path: path} }

func (s *Sysfs) Path() string { return s.path }

func (s *Sysfs) BusID() string { return filepath.Base(s.path) }

// Bus resolves the "subsystem" symlink's target basename, the conventional
// way sysfs exposes which bus a device sits on (e.g. usb, pci).
func (s *Sysfs) Bus() string {
	target, err := os.Readlink(filepath.Join(s.path, "subsystem"))
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// Attr reads a sysfs attribute file verbatim (including any trailing
// newline the kernel writes; rulematch trims it per spec §4.C).
func (s *Sysfs) Attr(name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(s.path, name))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Parent walks one level up the devices tree, stopping at the sysfs root.
func (s *Sysfs) Parent() device.SysfsDevice {
	parent := filepath.Dir(s.path)
	if parent == s.path || !strings.Contains(parent, "/devices/") {
		return nil
	}
	return &Sysfs{path: parent}
}

// Class implements device.ClassDevice for a node under /sys/class/<subsystem>.
type Class struct {
	name      string
	subsystem string
	sysfs     *Sysfs
}

// OpenClass resolves the class device at /sys/class/<subsystem>/<name>,
// following its "device" symlink to the backing sysfs directory.
func OpenClass(subsystem, name string) (*Class, error) {
	classPath := filepath.Join("/sys/class", subsystem, name)
	devPath, err := os.Readlink(filepath.Join(classPath, "device"))
	if err != nil {
		devPath = classPath // some subsystems have no separate device link
	} else if !filepath.IsAbs(devPath) {
		devPath = filepath.Clean(filepath.Join(classPath, devPath))
	}
	return &Class{name: name, subsystem: subsystem, sysfs: &Sysfs{path: devPath}}, nil
}

func (c *Class) Name() string      { return c.name }
func (c *Class) Subsystem() string { return c.subsystem }
func (c *Class) Sysfs() device.SysfsDevice { return c.sysfs }

// Parent has no general sysfs representation for class devices; subsystems
// that nest (e.g. partitions under a disk) are handled by nodeapply's
// partition logic instead, not by a class-device parent chain.
func (c *Class) Parent() device.ClassDevice { return nil }
