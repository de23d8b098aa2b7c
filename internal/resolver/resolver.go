// Package resolver implements the name resolver (spec §4.D): it runs an
// ordered rule list against a device, applying the first rule that
// determines a name (possibly after accumulating symlinks from
// symlink-only rules along the way), and fills in permissions.
package resolver

import (
	"strings"

	"github.com/smazurov/devnoded/internal/device"
	"github.com/smazurov/devnoded/internal/fmtexpand"
	"github.com/smazurov/devnoded/internal/glob"
	"github.com/smazurov/devnoded/internal/rulematch"
)

// Resolver holds the parsed rule list and permission table consumed by
// Resolve. Both are already-parsed structures — parsing rule/permission
// files is explicitly out of scope (spec §1).
type Resolver struct {
	Rules    []device.Rule
	Perms    []device.PermEntry
	Matcher  *rulematch.Matcher
	// NameTaken backs %e expansion; typically recordstore.Store.NameTaken.
	NameTaken func(name string) bool
}

// Resolve evaluates cls against the rule list and returns the final
// Resolved device, or a Resolved with IsSuppressed() true if a matching
// rule has both an empty name and an empty symlink list.
func (r *Resolver) Resolve(cls device.ClassDevice, major, minor string) device.Resolved {
	var symlinks []string
	var finalName string
	var matchedRule *device.Rule
	named := false

	kernelNumber := trailingDigits(cls.Name())

	for i := range r.Rules {
		rule := r.Rules[i]
		res := r.Matcher.Evaluate(rule, cls)
		if !res.Matched {
			continue
		}

		if rule.Partitions > 0 && kernelNumber != "" {
			// Device is itself a partition, not a whole block device:
			// this rule is skipped for naming entirely (spec §4.D).
			continue
		}

		exp := r.expanderFor(cls, res.Sysfs, res.ProgramResult, major, minor)

		if rule.Name == "" && rule.Symlink == "" {
			return device.Resolved{Name: device.Suppressed}
		}

		if rule.Symlink != "" {
			for _, tok := range strings.Fields(rule.Symlink) {
				symlinks = append(symlinks, exp.Expand(tok, 0))
			}
		}

		if rule.Name != "" {
			finalName = exp.Expand(rule.Name, 0)
			matchedRule = &r.Rules[i]
			named = true
			break
		}
		// rule.Name == "" and rule.Symlink != "": keep iterating.
	}

	if !named {
		finalName = rewriteBangs(cls.Name())
	}

	resolved := device.Resolved{
		Name:     finalName,
		Symlinks: symlinks,
	}
	if matchedRule != nil {
		resolved.Partitions = matchedRule.Partitions
	}

	r.fillPermissions(&resolved, matchedRule)
	return resolved
}

// expanderFor builds a fmtexpand.Expander bound to the matched (possibly
// walked-to) sysfs device and the rule's program_result.
func (r *Resolver) expanderFor(cls device.ClassDevice, sysfs device.SysfsDevice, programResult, major, minor string) *fmtexpand.Expander {
	e := &fmtexpand.Expander{
		Kernel:        cls.Name(),
		Major:         major,
		Minor:         minor,
		ProgramResult: programResult,
		NameTaken:     r.NameTaken,
	}
	if sysfs != nil {
		e.BusID = sysfs.BusID()
		e.SysfsAttr = sysfs.Attr
	}
	return e
}

func (r *Resolver) fillPermissions(resolved *device.Resolved, matchedRule *device.Rule) {
	if matchedRule != nil {
		resolved.Owner = matchedRule.Owner
		resolved.Group = matchedRule.Group
		resolved.Mode = matchedRule.Mode
	}

	if resolved.Owner == "" || resolved.Group == "" || resolved.Mode == "" {
		for _, p := range r.Perms {
			if !glob.Match(p.NamePattern, resolved.Name) {
				continue
			}
			if resolved.Owner == "" {
				resolved.Owner = p.Owner
			}
			if resolved.Group == "" {
				resolved.Group = p.Group
			}
			if resolved.Mode == "" {
				resolved.Mode = p.Mode
			}
			break
		}
	}

	if resolved.Owner == "" {
		resolved.Owner = device.DefaultOwner
	}
	if resolved.Group == "" {
		resolved.Group = device.DefaultGroup
	}
	if resolved.Mode == "" {
		resolved.Mode = device.DefaultMode
	}
}

func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}

// rewriteBangs replaces '!' with '/' in a kernel name, accommodating kernels
// that encode nested device names that way (spec §4.D).
func rewriteBangs(name string) string {
	return strings.ReplaceAll(name, "!", "/")
}
