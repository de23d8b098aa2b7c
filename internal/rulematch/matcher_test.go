package rulematch

import (
	"errors"
	"testing"

	"github.com/smazurov/devnoded/internal/device"
)

func TestEvaluateSimpleKernelMatch(t *testing.T) {
	cls := device.NewFakeClass("sda", "block")
	m := &Matcher{}
	rule := device.Rule{Kernel: "sd*"}
	res := m.Evaluate(rule, cls)
	if !res.Matched {
		t.Fatal("expected match")
	}
}

func TestEvaluateBusPredicateNoSysfs(t *testing.T) {
	cls := device.NewFakeClass("sda", "block")
	m := &Matcher{}
	rule := device.Rule{Bus: "usb"}
	res := m.Evaluate(rule, cls)
	if res.Matched {
		t.Fatal("expected no match: no sysfs device present to satisfy bus predicate")
	}
}

func TestEvaluateParentWalk(t *testing.T) {
	// The device's own sysfs node (a USB port, no "bus" attribute of its
	// own) has no bus match, but its sysfs parent does. The matcher must
	// retry the whole rule at the parent.
	parentSysfs := device.NewFakeSysfs("/sys/devices/pci0000:00/usb1", "usb1", "usb")
	child := device.NewFakeSysfs("/sys/devices/pci0000:00/usb1/1-1", "1-1", "").WithParent(parentSysfs)
	cls := device.NewFakeClass("sda", "block").WithSysfs(child)

	m := &Matcher{}
	rule := device.Rule{Bus: "usb"}
	res := m.Evaluate(rule, cls)
	if !res.Matched {
		t.Fatal("expected rule to match after walking to parent sysfs device")
	}
	if res.Sysfs.BusID() != "usb1" {
		t.Errorf("expected match to land on usb1, got %s", res.Sysfs.BusID())
	}
}

func TestEvaluateSysfsPairTrailingWhitespace(t *testing.T) {
	sysfs := device.NewFakeSysfs("/sys/x", "x", "usb").WithAttr("vendor", "ACME\n")
	cls := device.NewFakeClass("sda", "block").WithSysfs(sysfs)
	m := &Matcher{}

	rule := device.Rule{SysfsPair: []device.SysfsPair{{Key: "vendor", Pattern: "ACME"}}}
	if !m.Evaluate(rule, cls).Matched {
		t.Error("expected trailing-newline-stripped match")
	}

	ruleExact := device.Rule{SysfsPair: []device.SysfsPair{{Key: "vendor", Pattern: "ACME\n"}}}
	if !m.Evaluate(ruleExact, cls).Matched {
		t.Error("pattern ending in whitespace should opt into exact (unstripped) comparison and match the raw value")
	}
}

func TestEvaluateProgramResult(t *testing.T) {
	cls := device.NewFakeClass("sda", "block")
	m := &Matcher{RunProgram: func(cmd string) (string, error) {
		return "ID_SERIAL=abc123\n", nil
	}}
	rule := device.Rule{Program: "/lib/udev/scsi_id", Result: "ID_SERIAL=*"}
	res := m.Evaluate(rule, cls)
	if !res.Matched {
		t.Fatal("expected result predicate to match program output")
	}
	if res.ProgramResult != "ID_SERIAL=abc123" {
		t.Errorf("program result = %q", res.ProgramResult)
	}
}

func TestEvaluateProgramFailureIsNonMatch(t *testing.T) {
	cls := device.NewFakeClass("sda", "block")
	m := &Matcher{RunProgram: func(cmd string) (string, error) {
		return "", errors.New("exec failed")
	}}
	rule := device.Rule{Program: "/bin/false", Result: "*"}
	if m.Evaluate(rule, cls).Matched {
		t.Error("program exec failure must be treated as a non-match, not an error")
	}
}

func TestEvaluatePlacePredicate(t *testing.T) {
	sysfs := device.NewFakeSysfs("/sys/devices/pci0000:00/usb1/1-1", "1-1", "usb")
	cls := device.NewFakeClass("sda", "block").WithSysfs(sysfs)
	m := &Matcher{}
	rule := device.Rule{Place: "usb1/1-1"}
	if !m.Evaluate(rule, cls).Matched {
		t.Error("expected place predicate to match last two path components")
	}
}
