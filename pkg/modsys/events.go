// SPDX-License-Identifier: MPL-2.0

package modsys

const (
	EventCreated EventKind = iota + 1
	EventTransition
	EventFailed
	EventReleased
)

type (
	// EventKind tells what an Event reports.
	EventKind int

	// Event reports a change to an instance. Observers run on the worker
	// goroutine and must not block or call back into the engine.
	Event struct {
		Kind     EventKind
		Instance *Instance
		// State is the state entered; StateError for EventFailed and EventReleased.
		State State
		Err   error
	}

	// Observer receives engine events.
	Observer func(Event)
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventTransition:
		return "transition"
	case EventFailed:
		return "failed"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}
