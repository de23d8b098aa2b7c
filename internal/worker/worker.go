//go:build linux

// Package worker is the entrypoint logic of the short-lived process the
// daemon forks per event (spec §4.I/§6): it reconstructs the event from its
// inherited environment, resolves a name and permissions against the
// configured rule list, applies (or removes) the resulting device node, and
// records what it did so a later remove event can undo it. Everything here
// runs once and exits; there is no long-lived state beyond the record
// store's files on disk.
package worker

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/smazurov/devnoded/internal/config"
	"github.com/smazurov/devnoded/internal/daemonerr"
	"github.com/smazurov/devnoded/internal/device"
	"github.com/smazurov/devnoded/internal/nodeapply"
	"github.com/smazurov/devnoded/internal/recordstore"
	"github.com/smazurov/devnoded/internal/resolver"
	"github.com/smazurov/devnoded/internal/rulematch"
	"github.com/smazurov/devnoded/internal/sysfsdev"
	"github.com/smazurov/devnoded/internal/uevent"
)

// runShellCommand implements rulematch.ProgramRunner for a `program` rule
// predicate: cmd is the already format-expanded command line, split on
// whitespace and exec'd directly (no shell), following the teacher's direct
// os/exec.Command usage in its internal/process package rather than
// shelling out through /bin/sh.
func runShellCommand(cmd string) (string, error) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", fmt.Errorf("worker: empty program command")
	}
	out, err := exec.Command(fields[0], fields[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", daemonerr.ErrRuleEval, cmd, err)
	}
	return string(out), nil
}

// Options configures a single worker invocation. Everything except Env
// arrives either on argv or, per spec §6, is reconstructed from the
// process's own inherited environment.
type Options struct {
	// Subsystem is argv[1], duplicating the event's SUBSYSTEM= value; the
	// daemon passes it positionally so `ps` output names the subsystem
	// even if environment inspection is restricted.
	Subsystem string
	// Env is the worker's inherited environment, normally os.Environ().
	Env []string
	// ConfigPath is the daemon's TOML config file, carried as
	// DEVNODED_CONFIG by execqueue.ProcessForker since Env above already
	// is the whole process environment and can't be extended in place.
	ConfigPath string
	DevRoot    string
	RecordDir  string
	RecordKey  byte
	Logger     *slog.Logger
}

// Run executes one event to completion: resolve, apply or remove, record.
func Run(opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ev, err := uevent.FromEnviron(opts.Env)
	if err != nil {
		return fmt.Errorf("worker: reconstruct event: %w: %w", daemonerr.ErrMalformedEvent, err)
	}
	logger = logger.With("devpath", ev.Devpath, "action", ev.Action, "correlation_id", ev.CorrelationID)

	rules, perms := config.LoadRulesAndPermissions(opts.ConfigPath)

	recordDir := opts.RecordDir
	if recordDir == "" {
		recordDir = "/run/devnoded/records"
	}
	recordKey := opts.RecordKey
	if recordKey == 0 {
		recordKey = '!'
	}
	store, err := recordstore.New(recordDir, recordKey)
	if err != nil {
		return fmt.Errorf("worker: open record store: %w", err)
	}

	applier := nodeapply.New(opts.DevRoot)

	switch ev.Action {
	case "remove":
		return runRemove(ev, store, applier, logger)
	default:
		return runApplyOrSymlink(ev, rules, perms, store, applier, logger)
	}
}

func runApplyOrSymlink(ev uevent.Event, rules []device.Rule, perms []device.PermEntry, store *recordstore.Store, applier *nodeapply.Applier, logger *slog.Logger) error {
	kernelName := kernelNameFromDevpath(ev.Devpath)

	cls, err := sysfsdev.OpenClass(ev.Subsystem, kernelName)
	if err != nil {
		return fmt.Errorf("worker: open class device %s/%s: %w", ev.Subsystem, kernelName, err)
	}

	return applyResolved(cls, ev, kernelName, rules, perms, store, applier, logger)
}

// applyResolved runs resolution and application against an already-opened
// class device, split out from runApplyOrSymlink so tests can drive it with
// device.NewFakeClass instead of a real /sys tree.
func applyResolved(cls device.ClassDevice, ev uevent.Event, kernelName string, rules []device.Rule, perms []device.PermEntry, store *recordstore.Store, applier *nodeapply.Applier, logger *slog.Logger) error {
	res := &resolver.Resolver{
		Rules:     rules,
		Perms:     perms,
		Matcher:   &rulematch.Matcher{RunProgram: runShellCommand},
		NameTaken: store.NameTaken,
	}
	resolved := res.Resolve(cls, ev.Major, ev.Minor)

	if resolved.IsSuppressed() {
		logger.Debug("rule suppressed device, no node created")
		return store.Delete(ev.Devpath)
	}

	major, _ := strconv.Atoi(ev.Major)
	minor, _ := strconv.Atoi(ev.Minor)

	if err := applier.Apply(resolved, ev.Subsystem, kernelName, major, minor, nil); err != nil {
		return fmt.Errorf("worker: apply %s: %w", ev.Devpath, err)
	}

	rec := recordstore.Record{
		Name:       resolved.Name,
		Symlinks:   resolved.Symlinks,
		Major:      major,
		Minor:      minor,
		Partitions: resolved.Partitions,
	}
	if err := store.Put(ev.Devpath, kernelName, rec); err != nil {
		return fmt.Errorf("worker: record %s: %w: %w", ev.Devpath, daemonerr.ErrPersist, err)
	}

	logger.Info("applied device", "name", resolved.Name, "symlinks", resolved.Symlinks)
	return nil
}

func runRemove(ev uevent.Event, store *recordstore.Store, applier *nodeapply.Applier, logger *slog.Logger) error {
	rec, ok, err := store.Get(ev.Devpath)
	if err != nil {
		return fmt.Errorf("worker: read record for %s: %w: %w", ev.Devpath, daemonerr.ErrPersist, err)
	}
	if !ok {
		// No record means the kernel name was used as-is; nothing to undo
		// beyond the bare node, which the kernel itself has already torn
		// down for the real device, so there is nothing left to do here.
		logger.Debug("no record for removed device")
		return nil
	}
	if rec.IgnoreRemove {
		logger.Debug("ignore_remove set, leaving node in place")
		return store.Delete(ev.Devpath)
	}

	resolved := device.Resolved{Name: rec.Name, Symlinks: rec.Symlinks, Partitions: rec.Partitions}
	if err := applier.Remove(resolved, ev.Subsystem); err != nil {
		logger.Warn("remove failed", "error", err)
	}

	return store.Delete(ev.Devpath)
}

// kernelNameFromDevpath returns the last path component of a DEVPATH value,
// the kernel device name the class device is registered under.
func kernelNameFromDevpath(devpath string) string {
	i := len(devpath)
	for i > 0 && devpath[i-1] != '/' {
		i--
	}
	return devpath[i:]
}
