// Package rulematch evaluates a single rule against a device view, walking
// sysfs ancestors on failure as described in spec §4.C.
package rulematch

import (
	"path"
	"strings"

	"github.com/smazurov/devnoded/internal/device"
	"github.com/smazurov/devnoded/internal/fmtexpand"
	"github.com/smazurov/devnoded/internal/glob"
)

// ProgramRunner executes an external command and returns its stdout; the
// matcher strips at most one trailing newline from it. It is injected so the
// matcher itself never shells out directly and stays unit-testable.
type ProgramRunner func(command string) (stdout string, err error)

// Result carries what a successful match observed: the sysfs device the
// match was ultimately evaluated against (after zero or more parent-walk
// steps) and the program_result captured by a `program` predicate, visible
// only to this rule's later predicates/actions (spec invariant in §3).
type Result struct {
	Matched       bool
	Sysfs         device.SysfsDevice
	ProgramResult string
}

// Matcher evaluates rules against class devices.
type Matcher struct {
	RunProgram ProgramRunner
}

// Evaluate checks rule against cls, walking cls's sysfs ancestry on failure
// of any predicate and retrying the whole rule from the top at each step,
// per spec §4.C. Predicates bound to the class device (kernel, subsystem)
// are evaluated against the same, unwalked class device every time; this is
// deliberate, not a bug. If cls has no sysfs device of its own, the walk
// starts from its parent class device's sysfs device.
func (m *Matcher) Evaluate(rule device.Rule, cls device.ClassDevice) Result {
	sysfs := cls.Sysfs()
	if sysfs == nil {
		if p := cls.Parent(); p != nil {
			sysfs = p.Sysfs()
		}
	}
	for {
		if res, ok := m.evalOnce(rule, cls, sysfs); ok {
			return res
		}
		if sysfs == nil {
			return Result{}
		}
		parent := sysfs.Parent()
		if parent == nil {
			return Result{}
		}
		sysfs = parent
	}
}

func (m *Matcher) evalOnce(rule device.Rule, cls device.ClassDevice, sysfs device.SysfsDevice) (Result, bool) {
	if rule.Bus != "" {
		if sysfs == nil || !globMatch(rule.Bus, sysfs.Bus()) {
			return Result{}, false
		}
	}
	if rule.Kernel != "" {
		if !globMatch(rule.Kernel, cls.Name()) {
			return Result{}, false
		}
	}
	if rule.Subsystem != "" {
		if !globMatch(rule.Subsystem, cls.Subsystem()) {
			return Result{}, false
		}
	}
	if rule.ID != "" {
		if sysfs == nil || !globMatch(rule.ID, sysfs.BusID()) {
			return Result{}, false
		}
	}
	if rule.Place != "" {
		if sysfs == nil || !strings.Contains(lastTwoComponents(sysfs.Path()), rule.Place) {
			return Result{}, false
		}
	}
	for _, pair := range rule.SysfsPair {
		if sysfs == nil {
			return Result{}, false
		}
		raw, ok := sysfs.Attr(pair.Key)
		if !ok {
			return Result{}, false
		}
		value := raw
		if !endsWithWhitespace(pair.Pattern) {
			value = strings.TrimRight(raw, " \t\r\n")
		}
		if !globMatch(pair.Pattern, value) {
			return Result{}, false
		}
	}

	var programResult string
	if rule.Program != "" {
		if m.RunProgram == nil {
			return Result{}, false
		}
		exp := expanderFor(cls, sysfs, "")
		cmd := exp.Expand(rule.Program, 0)
		out, err := m.RunProgram(cmd)
		if err != nil {
			// RULE_EVAL_ERROR: exec failure is treated as a non-match,
			// evaluation continues with other rules (spec §7).
			return Result{}, false
		}
		programResult = strings.TrimSuffix(out, "\n")
	}

	if rule.Result != "" {
		if !globMatch(rule.Result, programResult) {
			return Result{}, false
		}
	}

	return Result{Matched: true, Sysfs: sysfs, ProgramResult: programResult}, true
}

func expanderFor(cls device.ClassDevice, sysfs device.SysfsDevice, programResult string) *fmtexpand.Expander {
	e := &fmtexpand.Expander{
		Kernel:        cls.Name(),
		ProgramResult: programResult,
	}
	if sysfs != nil {
		e.BusID = sysfs.BusID()
		e.SysfsAttr = sysfs.Attr
	}
	return e
}

func lastTwoComponents(p string) string {
	p = strings.TrimRight(p, "/")
	a := path.Base(p)
	rest := strings.TrimSuffix(p, "/"+a)
	b := path.Base(rest)
	if b == "." || b == "/" || b == "" {
		return a
	}
	return b + "/" + a
}

func endsWithWhitespace(s string) bool {
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last == ' ' || last == '\t' || last == '\n' || last == '\r'
}

func globMatch(pattern, s string) bool {
	return glob.Match(pattern, s)
}
