package fmtexpand

import "testing"

func TestExpandNoDirectives(t *testing.T) {
	e := &Expander{}
	if got := e.Expand("plain-string", 0); got != "plain-string" {
		t.Errorf("got %q", got)
	}
}

func TestExpandLiteralPercent(t *testing.T) {
	e := &Expander{}
	if got := e.Expand("%%", 0); got != "%" {
		t.Errorf("got %q, want %%", got)
	}
}

func TestExpandBasicFields(t *testing.T) {
	e := &Expander{BusID: "1-1", Kernel: "sda3", Major: "8", Minor: "3"}
	if got := e.Expand("%b", 0); got != "1-1" {
		t.Errorf("%%b = %q", got)
	}
	if got := e.Expand("%k", 0); got != "sda3" {
		t.Errorf("%%k = %q", got)
	}
	if got := e.Expand("%n", 0); got != "3" {
		t.Errorf("%%n = %q", got)
	}
	if got := e.Expand("%m", 0); got != "3" {
		t.Errorf("%%m = %q", got)
	}
	if got := e.Expand("%M", 0); got != "8" {
		t.Errorf("%%M = %q", got)
	}
}

func TestExpandKernelNumberNoDigits(t *testing.T) {
	e := &Expander{Kernel: "sda"}
	if got := e.Expand("%n", 0); got != "" {
		t.Errorf("%%n on whole-disk kernel name = %q, want empty", got)
	}
}

func TestExpandFieldCap(t *testing.T) {
	e := &Expander{Kernel: "sdabcdef"}
	if got := e.Expand("%3k", 0); got != "sda" {
		t.Errorf("capped %%3k = %q, want sda", got)
	}
}

func TestExpandProgramResultSelectors(t *testing.T) {
	e := &Expander{ProgramResult: "ID_VENDOR=foo ID_MODEL=bar ID_SERIAL=baz"}
	if got := e.Expand("%c", 0); got != e.ProgramResult {
		t.Errorf("%%c = %q", got)
	}
	if got := e.Expand("%c{2}", 0); got != "ID_MODEL=bar" {
		t.Errorf("%%c{2} = %q", got)
	}
	if got := e.Expand("%c{2+}", 0); got != "ID_MODEL=bar ID_SERIAL=baz" {
		t.Errorf("%%c{2+} = %q", got)
	}
	if got := e.Expand("%c{9}", 0); got != "" {
		t.Errorf("%%c{9} out of range = %q, want empty", got)
	}
}

func TestExpandSysfsAttr(t *testing.T) {
	e := &Expander{SysfsAttr: func(name string) (string, bool) {
		if name == "vendor" {
			return "ACME\n", true
		}
		return "", false
	}}
	if got := e.Expand("%s{vendor}", 0); got != "ACME" {
		t.Errorf("%%s{vendor} = %q, want ACME", got)
	}
	if got := e.Expand("%s{missing}", 0); got != "" {
		t.Errorf("%%s{missing} = %q, want empty", got)
	}
}

func TestExpandFreeNumber(t *testing.T) {
	taken := map[string]bool{"cam": true, "cam1": true}
	e := &Expander{NameTaken: func(c string) bool { return taken[c] }}
	if got := e.Expand("cam%e", 0); got != "cam2" {
		t.Errorf("cam%%e with cam,cam1 taken = %q, want cam2", got)
	}

	e2 := &Expander{NameTaken: func(c string) bool { return false }}
	if got := e2.Expand("cam%e", 0); got != "cam" {
		t.Errorf("cam%%e with nothing taken = %q, want cam", got)
	}
}

func TestExpandMaxLenCap(t *testing.T) {
	e := &Expander{}
	if got := e.Expand("abcdef", 3); got != "abc" {
		t.Errorf("capped expansion = %q, want abc", got)
	}
}

func TestExpandUnknownDirectiveIgnored(t *testing.T) {
	e := &Expander{}
	if got := e.Expand("a%qb", 0); got != "ab" {
		t.Errorf("unknown directive = %q, want ab", got)
	}
}
