// Package fmtexpand implements the udev-style format-string expander used
// to synthesize device names, symlinks, and program command lines from
// device metadata: %b %k %n %m %M %c{n[+]} %s{attr} %e %%.
package fmtexpand

import (
	"strconv"
	"strings"
)

// Expander holds the device metadata a format string is expanded against.
// All fields are read-only inputs computed by the caller (the rule matcher
// or name resolver) before expansion; Expander never mutates device state.
type Expander struct {
	BusID         string
	Kernel        string
	Major         string
	Minor         string
	ProgramResult string // set by the rule matcher after a successful `program` action

	// SysfsAttr resolves a %s{attr} lookup. nil means no sysfs device is
	// available and %s{...} expands to "".
	SysfsAttr func(name string) (value string, ok bool)

	// NameTaken resolves %e: it reports whether candidate is already used
	// as a record name. nil is treated as "nothing is ever taken", so %e
	// always expands to "".
	NameTaken func(candidate string) bool
}

// Expand walks s for '%' directives and returns the substituted result,
// capped to maxLen runes if maxLen > 0. An optional decimal length between
// '%' and the directive character caps that one substitution.
func (e *Expander) Expand(s string, maxLen int) string {
	var out strings.Builder
	r := []rune(s)

	for i := 0; i < len(r); i++ {
		if r[i] != '%' {
			out.WriteRune(r[i])
			continue
		}
		i++
		if i >= len(r) {
			break // trailing lone '%'
		}

		fieldCap := -1
		digitsStart := i
		for i < len(r) && r[i] >= '0' && r[i] <= '9' {
			i++
		}
		if i > digitsStart {
			n, err := strconv.Atoi(string(r[digitsStart:i]))
			if err == nil {
				fieldCap = n
			}
		}
		if i >= len(r) {
			break // lone '%NNN' with no directive
		}

		directive := r[i]
		var value string
		switch directive {
		case '%':
			value = "%"
		case 'b':
			value = e.BusID
		case 'k':
			value = e.Kernel
		case 'n':
			value = trailingDigits(e.Kernel)
		case 'm':
			value = e.Minor
		case 'M':
			value = e.Major
		case 'c':
			sel, consumed := parseBraceSelector(r[i+1:])
			i += consumed
			value = expandProgramResult(e.ProgramResult, sel)
		case 's':
			attr, consumed := parseBraceArg(r[i+1:])
			i += consumed
			if e.SysfsAttr != nil {
				if v, ok := e.SysfsAttr(attr); ok {
					value = stripTrailingAttrWhitespace(v)
				}
			}
		case 'e':
			value = expandFreeNumber(out.String(), e.NameTaken)
		default:
			// Unknown directive: ignored. A real daemon would log a
			// diagnostic here; logging policy is not this package's job.
			value = ""
		}

		if fieldCap >= 0 && len(value) > fieldCap {
			value = value[:fieldCap]
		}
		out.WriteString(value)
	}

	result := out.String()
	if maxLen > 0 {
		if rr := []rune(result); len(rr) > maxLen {
			result = string(rr[:maxLen])
		}
	}
	return result
}

// trailingDigits returns the maximal run of ASCII digits at the end of s.
func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}

// parseBraceArg parses a "{text}" immediately following the cursor and
// returns its contents plus the number of runes consumed (including the
// braces). If there is no opening brace, it returns "", 0.
func parseBraceArg(r []rune) (string, int) {
	if len(r) == 0 || r[0] != '{' {
		return "", 0
	}
	for i := 1; i < len(r); i++ {
		if r[i] == '}' {
			return string(r[1:i]), i + 1
		}
	}
	return "", 0
}

// selector describes a %c{N} or %c{N+} field selection.
type selector struct {
	set   bool
	index int  // 1-based
	plus  bool // "N+" means "from N to end"
}

func parseBraceSelector(r []rune) (selector, int) {
	body, consumed := parseBraceArg(r)
	if consumed == 0 {
		return selector{}, 0
	}
	plus := strings.HasSuffix(body, "+")
	numPart := strings.TrimSuffix(body, "+")
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return selector{}, consumed
	}
	return selector{set: true, index: n, plus: plus}, consumed
}

func expandProgramResult(result string, sel selector) string {
	if !sel.set {
		return result
	}
	fields := strings.Fields(result)
	if sel.index < 1 || sel.index > len(fields) {
		return ""
	}
	if sel.plus {
		return strings.Join(fields[sel.index-1:], " ")
	}
	return fields[sel.index-1]
}

// stripTrailingAttrWhitespace strips at most one trailing newline and any
// run of trailing whitespace after it, per spec §4.B.
func stripTrailingAttrWhitespace(v string) string {
	v = strings.TrimSuffix(v, "\n")
	return strings.TrimRight(v, " \t\n\r")
}

// expandFreeNumber implements %e: find the lowest N >= 0 such that
// base+N is not a taken name. N == 0 expands to "" (the base name itself is
// free); N >= 1 expands to the decimal string.
func expandFreeNumber(base string, taken func(string) bool) string {
	if taken == nil {
		return ""
	}
	if !taken(base) {
		return ""
	}
	for n := 1; ; n++ {
		candidate := base + strconv.Itoa(n)
		if !taken(candidate) {
			return strconv.Itoa(n)
		}
	}
}
