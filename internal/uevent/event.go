// Package uevent defines the Event the daemon passes between its queues and
// workers, and parses the two wire formats that produce one: the kernel
// netlink uevent payload and the helper datagram's environment block (spec
// §3, §4.G).
package uevent

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies which socket an Event arrived on.
type Source int

const (
	SourceNetlink Source = iota
	SourceHelper
)

func (s Source) String() string {
	if s == SourceHelper {
		return "helper"
	}
	return "netlink"
}

// Event is immutable after construction (spec §3). The zero value's
// Seqnum == 0 means "no sequence, bypass ordering".
type Event struct {
	Seqnum          uint64
	Action          string
	Devpath         string
	Subsystem       string
	PhysDevPath     string
	Major           string
	Minor           string
	HasTimeout      bool
	TimeoutOverride time.Duration

	// Env is the ordered KEY=VALUE block passed to the worker verbatim,
	// including the recognized keys above and the UDEVD_EVENT=1 sentinel.
	Env []string

	Source Source
	// QueueTime is set by the event queue at insertion, not at parse time.
	QueueTime time.Time
	// WorkerPID is set only while the event is in the running state.
	WorkerPID int
	// CorrelationID tags log lines about this event. A fresh id is generated
	// each time an Event is parsed; it is not passed in the worker's
	// environment, so a worker's FromEnviron gives its copy a new id.
	CorrelationID string
}

// EnvValue returns the value of key in Env, or "" if absent.
func (e Event) EnvValue(key string) string {
	prefix := key + "="
	for _, kv := range e.Env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):]
		}
	}
	return ""
}

const sentinelEnv = "UDEVD_EVENT=1"

// ParseNetlinkPayload parses a kernel uevent message of the form
// "ACTION@DEVPATH\0KEY=VALUE\0KEY=VALUE\0..." and validates that the
// leading ACTION matches the ACTION= value carried in the KEY=VALUE block;
// mismatches are dropped per spec §6.
func ParseNetlinkPayload(data []byte) (Event, error) {
	parts := bytes.Split(data, []byte{0})
	if len(parts) == 0 || len(parts[0]) == 0 {
		return Event{}, fmt.Errorf("uevent: empty netlink payload")
	}

	header := string(parts[0])
	at := strings.IndexByte(header, '@')
	if at < 1 {
		return Event{}, fmt.Errorf("uevent: malformed header %q", header)
	}
	headerAction, devpath := header[:at], header[at+1:]

	ev, err := buildEvent(parts[1:], SourceNetlink)
	if err != nil {
		return Event{}, err
	}
	if ev.Action != "" && ev.Action != headerAction {
		return Event{}, fmt.Errorf("uevent: header action %q does not match ACTION=%q", headerAction, ev.Action)
	}
	if ev.Action == "" {
		ev.Action = headerAction
	}
	if ev.Devpath == "" {
		ev.Devpath = devpath
	}
	return ev, nil
}

// ParseHelperEnvBlock parses a null-separated KEY=VALUE buffer with no
// leading "ACTION@DEVPATH" header, as carried in a helper datagram's
// envbuf.
func ParseHelperEnvBlock(data []byte) (Event, error) {
	parts := bytes.Split(data, []byte{0})
	return buildEvent(parts, SourceHelper)
}

// FromEnviron reconstructs the Event a worker was forked for from its own
// inherited environment (spec §6: the daemon execs the worker with the
// event's KEY=VALUE block as its entire environment). env is typically
// os.Environ().
func FromEnviron(env []string) (Event, error) {
	parts := make([][]byte, len(env))
	for i, kv := range env {
		parts[i] = []byte(kv)
	}
	return buildEvent(parts, SourceHelper)
}

func buildEvent(parts [][]byte, source Source) (Event, error) {
	ev := Event{Source: source, CorrelationID: uuid.NewString()}
	var env []string

	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		kv := string(part)
		eq := strings.IndexByte(kv, '=')
		if eq < 1 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		env = append(env, kv)

		switch key {
		case "ACTION":
			ev.Action = val
		case "DEVPATH":
			ev.Devpath = val
		case "SUBSYSTEM":
			ev.Subsystem = val
		case "PHYSDEVPATH":
			ev.PhysDevPath = val
		case "MAJOR":
			ev.Major = val
		case "MINOR":
			ev.Minor = val
		case "SEQNUM":
			n, err := strconv.ParseUint(val, 10, 64)
			if err == nil {
				ev.Seqnum = n
			}
		case "TIMEOUT":
			secs, err := strconv.ParseFloat(val, 64)
			if err == nil {
				ev.HasTimeout = true
				ev.TimeoutOverride = time.Duration(secs * float64(time.Second))
			}
		}
	}

	if ev.Action == "" {
		return Event{}, fmt.Errorf("uevent: missing ACTION")
	}
	if ev.Devpath == "" {
		return Event{}, fmt.Errorf("uevent: missing DEVPATH")
	}

	env = append(env, sentinelEnv)
	ev.Env = env
	return ev, nil
}

// WithWorkerEnv returns a copy of e.Env with UDEV_LOG=<priority> appended,
// for exec'ing the worker binary (spec §6).
func (e Event) WithWorkerEnv(logPriority string) []string {
	out := make([]string, 0, len(e.Env)+1)
	out = append(out, e.Env...)
	out = append(out, "UDEV_LOG="+logPriority)
	return out
}
