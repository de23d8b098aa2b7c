// Package device defines the resolver's view of a kernel device: the
// class-device/sysfs-device pair the rule matcher and name resolver walk,
// plus the parsed Rule and PermEntry structures they consume. Sysfs
// traversal itself (reading real files under /sys) is out of scope for this
// package — ClassDevice and SysfsDevice are interfaces so the resolver can
// be driven by a real adapter or, in tests, by a fake.
package device

// SysfsDevice is one node in the sysfs device tree: a bus-attached device
// with a path, a bus id (its own last path component), a bus name, and
// zero-or-more attribute files.
type SysfsDevice interface {
	// Path is the full sysfs path, e.g. "/sys/devices/pci0000:00/.../usb1".
	Path() string
	// BusID is the last path component of Path().
	BusID() string
	// Bus is the subsystem this device is attached through, e.g. "usb".
	Bus() string
	// Attr reads a sysfs attribute by name. ok is false if the attribute
	// does not exist. Trailing newline stripping is the caller's job
	// (format expander and rule matcher each strip differently).
	Attr(name string) (value string, ok bool)
	// Parent returns the next sysfs device up the tree, or nil at the root.
	Parent() SysfsDevice
}

// ClassDevice is the kernel class device a uevent names directly: it has a
// kernel name (e.g. "sda", "video0") and, optionally, a parent class device
// and/or an associated sysfs device.
type ClassDevice interface {
	// Name is the kernel device name, e.g. "sda1", "ttyUSB0".
	Name() string
	// Subsystem is the class device's subsystem, e.g. "block", "tty".
	Subsystem() string
	// Sysfs returns the sysfs device directly associated with this class
	// device, or nil if none (the rule matcher then falls back to the
	// parent class device's sysfs device, per spec).
	Sysfs() SysfsDevice
	// Parent returns the parent class device, or nil at the root.
	Parent() ClassDevice
}

// Rule is one ordered entry of a parsed rule list. Predicates are
// conjunctive; an empty predicate field is not evaluated (spec §3/§4.C).
//
// Rule is config-file data (TOML-tagged): spec §1 Non-goals excludes
// parsing the native udev .rules text format, not structured rule
// ingestion in general, so SPEC_FULL.md's daemon config loads Rule values
// straight out of TOML via internal/config rather than writing a bespoke
// line-oriented parser for a format the core never needed to understand.
type Rule struct {
	// Match predicates, evaluated in this order when non-empty.
	Bus       string      `toml:"bus"`
	Kernel    string      `toml:"kernel"`
	Subsystem string      `toml:"subsystem"`
	ID        string      `toml:"id"` // matched against the sysfs device's BusID
	Place     string      `toml:"place"` // substring match against the last two path components
	SysfsPair []SysfsPair `toml:"sysfs_pair"`
	Program   string      `toml:"program"` // format-expanded before exec; stdout -> ProgramResult
	Result    string      `toml:"result"`  // pattern matched against ProgramResult

	// Actions.
	Name       string `toml:"name"`
	Symlink    string `toml:"symlink"` // space-separated list, format-expanded per entry
	Owner      string `toml:"owner"`
	Group      string `toml:"group"`
	Mode       string `toml:"mode"` // octal string, e.g. "0660"
	Partitions int    `toml:"partitions"`

	// Diagnostics.
	File string `toml:"-"`
	Line int    `toml:"-"`
}

// SysfsPair is one "key==value-pattern" predicate against a sysfs
// attribute.
type SysfsPair struct {
	Key     string `toml:"key"`
	Pattern string `toml:"pattern"`
}

// PermEntry is one entry of the permissions table, consulted after rule
// application to fill any owner/group/mode the matched rule left unset.
type PermEntry struct {
	NamePattern string `toml:"name"`
	Owner       string `toml:"owner"`
	Group       string `toml:"group"`
	Mode        string `toml:"mode"`
}

// Resolved is a fully-evaluated device: the final node name (or the
// Suppressed sentinel), its symlink list, and its ownership/mode.
type Resolved struct {
	Name       string
	Symlinks   []string
	Owner      string
	Group      string
	Mode       string // octal string, always set by the time resolution completes
	Partitions int
}

// Suppressed is the sentinel Resolved.Name value meaning "no node should be
// created for this device" (spec §4.D, scenario 5).
const Suppressed = "\x00suppressed\x00"

// IsSuppressed reports whether r represents a suppressed device.
func (r Resolved) IsSuppressed() bool {
	return r.Name == Suppressed
}

// Default process-wide permission fallbacks (spec §4.D).
const (
	DefaultOwner = "root"
	DefaultGroup = "root"
	DefaultMode  = "0600"
)
