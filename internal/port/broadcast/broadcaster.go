// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types pushed to observers.
const (
	EventDeploymentProgress = "deployment_progress"
	EventDeploymentComplete = "deployment_complete"
	EventAgentUpdated       = "agent_updated"
	EventAgentDeleted       = "agent_deleted"
)

// Broadcaster sends real-time events to all connected clients. Delivery is
// best-effort: slow or disconnected clients miss events.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
