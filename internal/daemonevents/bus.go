// Package daemonevents wraps kelindar/event for the daemon's internal
// pub/sub (SPEC_FULL.md domain-stack supplement): the introspection API and
// structured logging both want to observe fork/reap/apply activity without
// the execution queue importing either of them. Adapted from the teacher's
// internal/events.Bus, which enumerates each event type in a type switch
// because kelindar/event's Publish/Subscribe are generic functions keyed on
// the event's concrete type.
package daemonevents

import "github.com/kelindar/event"

// WorkerForked fires when the execution queue starts a worker.
type WorkerForked struct {
	Devpath string
	PID     int
	Action  string
}

// WorkerReaped fires when a worker exits and is removed from the running set.
type WorkerReaped struct {
	Devpath string
	PID     int
	AgeMS   int64
}

// NodeApplied describes a device node being created, updated or removed.
// Nodes are applied by forked workers, which have no channel back to the
// daemon's bus, and coldplug events go through the execution queue like any
// other; nothing in the daemon publishes this type.
type NodeApplied struct {
	Devpath string
	Name    string
	Removed bool
}

// QueueStalled fires when an execution pass fails with an error; a pass that
// holds events back because of the load gate does not publish it.
type QueueStalled struct {
	Reason string
}

// Bus dispatches the daemon's internal events.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish broadcasts ev to subscribers of its concrete type.
func (b *Bus) Publish(ev any) {
	switch e := ev.(type) {
	case WorkerForked:
		event.Publish(b.dispatcher, e)
	case WorkerReaped:
		event.Publish(b.dispatcher, e)
	case NodeApplied:
		event.Publish(b.dispatcher, e)
	case QueueStalled:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler for its event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(WorkerForked):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerReaped):
		return event.Subscribe(b.dispatcher, h)
	case func(NodeApplied):
		return event.Subscribe(b.dispatcher, h)
	case func(QueueStalled):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
