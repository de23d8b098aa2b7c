//go:build linux

// Package coldplug enumerates devices already present in sysfs at daemon
// startup and synthesizes "add" events for them (real udev implementations
// "trigger" a coldplug pass so a daemon started after boot still creates
// nodes for already-plugged hardware). It uses github.com/jochenvg/go-udev's
// enumerator, the strongest domain-fit library the teacher's code imports,
// rather than
// hand-walking /sys: go-udev already knows how to filter by subsystem and
// skip devices mid-initialization.
package coldplug

import (
	"fmt"

	"github.com/jochenvg/go-udev"

	"github.com/smazurov/devnoded/internal/uevent"
)

// Enumerate lists every device under subsystems (or all subsystems if empty)
// and returns a synthetic "add" Event per device, seqnum 0 (bypasses
// ordering, per spec: coldplugged devices have no kernel sequence number).
func Enumerate(subsystems []string) ([]uevent.Event, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchIsInitialized(); err != nil {
		return nil, fmt.Errorf("coldplug: match initialized: %w", err)
	}
	for _, sub := range subsystems {
		if err := e.AddMatchSubsystem(sub); err != nil {
			return nil, fmt.Errorf("coldplug: match subsystem %s: %w", sub, err)
		}
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("coldplug: enumerate devices: %w", err)
	}

	events := make([]uevent.Event, 0, len(devices))
	for _, d := range devices {
		env := []string{
			"ACTION=add",
			"DEVPATH=" + d.Syspath(),
			"SUBSYSTEM=" + d.Subsystem(),
		}
		if node := d.Devnode(); node != "" {
			env = append(env, "DEVNAME="+node)
		}
		env = append(env, "UDEVD_EVENT=1")

		events = append(events, uevent.Event{
			Action:    "add",
			Devpath:   d.Syspath(),
			Subsystem: d.Subsystem(),
			Env:       env,
			Source:    uevent.SourceHelper,
		})
	}
	return events, nil
}
