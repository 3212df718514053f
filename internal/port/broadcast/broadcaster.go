// Package broadcast defines the port for pushing host events to connected
// editor hosts.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Multi fans an event out to every non-nil broadcaster in order.
type Multi []Broadcaster

// BroadcastEvent implements Broadcaster.
func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// BroadcastEvent implements Broadcaster.
func (Discard) BroadcastEvent(context.Context, string, any) {}
