// Package daemonerr defines the daemon's sentinel errors (SPEC_FULL.md
// Ambient Stack: Error handling). Only ErrFatalSetup should ever cause the
// daemon to exit non-zero; everything else is logged and the daemon
// continues serving other events.
package daemonerr

import "errors"

var (
	// ErrTransientIO covers recoverable socket/filesystem I/O failures
	// (a read that returns EAGAIN, a stat that races a device removal).
	ErrTransientIO = errors.New("daemonerr: transient I/O error")
	// ErrMalformedEvent covers a netlink or helper payload that failed to
	// parse into an Event.
	ErrMalformedEvent = errors.New("daemonerr: malformed event")
	// ErrDuplicateSeq marks an event dropped by the ordering queue because
	// its sequence number was already seen.
	ErrDuplicateSeq = errors.New("daemonerr: duplicate sequence number")
	// ErrRuleEval covers a rule's PROGRAM directive failing to execute;
	// per spec this is treated as a non-match, not a fatal condition.
	ErrRuleEval = errors.New("daemonerr: rule program evaluation failed")
	// ErrPersist covers a record store write/read failure for one device.
	ErrPersist = errors.New("daemonerr: record persistence failed")
	// ErrFatalSetup covers failures during daemon bring-up (opening the
	// netlink socket, the helper socket or the self-pipe) that leave the
	// daemon unable to run at all. Only this sentinel should propagate to a non-zero exit code.
	ErrFatalSetup = errors.New("daemonerr: fatal setup error")
)
