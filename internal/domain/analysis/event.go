package analysis

import "time"

// EventKind classifies an unsolicited supervisor event.
type EventKind string

const (
	EventSpawnFailure  EventKind = "spawn_failure"
	EventProcessCrash  EventKind = "process_crash"
	EventProtocolError EventKind = "protocol_error"
	EventRestarted     EventKind = "restarted"
)

// Event is emitted by the supervisor on its persistent event channel.
// ExitCode is only meaningful for EventProcessCrash.
type Event struct {
	Kind     EventKind
	Err      error
	ExitCode int
	At       time.Time

	// Restarting is set when the supervisor discarded the instance and a
	// replacement is scheduled.
	Restarting bool
}

// Message returns the human readable description of the event.
func (e Event) Message() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}
