package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// Event type constants for WebSocket messages.
const (
	EventDecorations  = "analysis.decorations"
	EventDiagnostics  = "analysis.diagnostics"
	EventTokens       = "analysis.tokens"
	EventNotification = "server.notification"
	EventServerStatus = "server.status"
)

// Notification levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// ActionRetry asks the host to offer a Retry button wired to POST /api/v1/retry.
const ActionRetry = "Retry"

// DecorationsEvent is broadcast after the focused document was analyzed.
type DecorationsEvent struct {
	Path    string                     `json:"path"`
	Version int                        `json:"version,omitempty"`
	Groups  []analysis.DecorationGroup `json:"groups"`
}

// DiagnosticsEvent replaces the host's diagnostics for every listed file.
type DiagnosticsEvent struct {
	Path        string                           `json:"path"`
	Diagnostics map[string][]analysis.Diagnostic `json:"diagnostics"`
}

// TokensEvent carries the highlighting tokens of the focused document.
type TokensEvent struct {
	Path   string           `json:"path"`
	Tokens []analysis.Token `json:"tokens"`
}

// NotificationEvent asks the host to show a message. Actions name buttons.
type NotificationEvent struct {
	Level   string   `json:"level"`
	Message string   `json:"message"`
	Actions []string `json:"actions,omitempty"`
}

// ServerStatusEvent reports the analyzer process state.
type ServerStatusEvent struct {
	analysis.ServerInfo
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
