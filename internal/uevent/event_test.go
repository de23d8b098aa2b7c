package uevent

import "testing"

func buf(parts ...string) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, []byte(p)...)
		b = append(b, 0)
	}
	return b
}

func TestParseNetlinkPayloadBasic(t *testing.T) {
	data := buf("add@/devices/pci0000:00/usb1/1-1", "ACTION=add", "DEVPATH=/devices/pci0000:00/usb1/1-1", "SUBSYSTEM=usb", "SEQNUM=42")
	ev, err := ParseNetlinkPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Action != "add" || ev.Devpath != "/devices/pci0000:00/usb1/1-1" || ev.Subsystem != "usb" || ev.Seqnum != 42 {
		t.Errorf("parsed = %+v", ev)
	}
	if ev.EnvValue("SEQNUM") != "42" {
		t.Errorf("EnvValue(SEQNUM) = %q", ev.EnvValue("SEQNUM"))
	}
}

func TestParseNetlinkPayloadActionMismatchRejected(t *testing.T) {
	data := buf("add@/devices/x", "ACTION=remove", "DEVPATH=/devices/x")
	if _, err := ParseNetlinkPayload(data); err == nil {
		t.Fatal("expected mismatch between header action and ACTION= to be rejected")
	}
}

func TestParseNetlinkPayloadMissingHeader(t *testing.T) {
	if _, err := ParseNetlinkPayload([]byte("garbage")); err == nil {
		t.Fatal("expected error on malformed header")
	}
}

func TestParseHelperEnvBlock(t *testing.T) {
	data := buf("ACTION=remove", "DEVPATH=/devices/y", "MAJOR=8", "MINOR=1")
	ev, err := ParseHelperEnvBlock(data)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Action != "remove" || ev.Major != "8" || ev.Minor != "1" || ev.Source != SourceHelper {
		t.Errorf("parsed = %+v", ev)
	}
}

func TestBuildEventAppendsSentinel(t *testing.T) {
	data := buf("ACTION=add", "DEVPATH=/devices/z")
	ev, err := ParseHelperEnvBlock(data)
	if err != nil {
		t.Fatal(err)
	}
	if ev.EnvValue("UDEVD_EVENT") != "1" {
		t.Error("expected UDEVD_EVENT=1 sentinel in env block")
	}
}

func TestBuildEventMissingActionRejected(t *testing.T) {
	data := buf("DEVPATH=/devices/z")
	if _, err := ParseHelperEnvBlock(data); err == nil {
		t.Fatal("expected missing ACTION to be rejected")
	}
}

func TestBuildEventPreservesEnvOrder(t *testing.T) {
	data := buf("ACTION=add", "DEVPATH=/d", "FOO=1", "BAR=2")
	ev, err := ParseHelperEnvBlock(data)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Env[0] != "ACTION=add" || ev.Env[2] != "FOO=1" || ev.Env[3] != "BAR=2" {
		t.Errorf("env order not preserved: %v", ev.Env)
	}
}

func TestWithWorkerEnvAppendsLogLevel(t *testing.T) {
	data := buf("ACTION=add", "DEVPATH=/d")
	ev, _ := ParseHelperEnvBlock(data)
	env := ev.WithWorkerEnv("6")
	last := env[len(env)-1]
	if last != "UDEV_LOG=6" {
		t.Errorf("last env entry = %q, want UDEV_LOG=6", last)
	}
}
