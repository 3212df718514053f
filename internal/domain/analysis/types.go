// Package analysis defines the domain model of the analyzer client: source
// locations, the normalized analysis result, document snapshots and the
// lifecycle vocabulary of the analyzer process. These types are independent
// of the wire format spoken by the analyzer and of the editor host.
package analysis

import "fmt"

// Location addresses a symbol or message in a named source file.
// Offset and Length are byte positions into the full document text and are
// the source of truth for range reconstruction. Line and Column are a 0-based
// projection of the same position, used for diagnostics and legacy payloads.
type Location struct {
	File   string `json:"file"`
	Line   uint   `json:"line"`
	Column uint   `json:"column"`
	Offset uint   `json:"offset"`
	Length uint   `json:"length,omitempty"`
}

// Span is a half-open byte range [Start, End) into a document.
type Span struct {
	Start uint `json:"start"`
	End   uint `json:"end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() uint {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// Position in a text document (0-based line and character).
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range in a text document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Severity of a diagnostic. Values mirror LSP DiagnosticSeverity.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
)

// String returns the severity tag used by the editor host.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity as its tag.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity tag.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// ServerStatus represents the lifecycle state of the analyzer process.
type ServerStatus string

const (
	ServerStatusStopped    ServerStatus = "stopped"
	ServerStatusStarting   ServerStatus = "starting"
	ServerStatusReady      ServerStatus = "ready"
	ServerStatusRestarting ServerStatus = "restarting"
	ServerStatusFailed     ServerStatus = "failed"
)

// ServerInfo describes the analyzer process as seen by the supervisor.
type ServerInfo struct {
	Command   string       `json:"command"`
	Status    ServerStatus `json:"status"`
	PID       int          `json:"pid,omitempty"`
	Restarts  int          `json:"restarts"`
	LastError string       `json:"last_error,omitempty"`
}
