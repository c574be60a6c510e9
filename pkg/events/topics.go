package events

const TopicStackEvents = "devstack.events"

const (
	TypeServiceStarting = "service.starting"
	TypeServiceStarted  = "service.started"
	TypeServiceHealth   = "service.health"
	TypeServiceBlocked  = "service.blocked"
	TypeServiceStopped  = "service.stopped"
	TypeStackUp         = "stack.up"
)

// ServiceEvent is the payload of every service.* event.
type ServiceEvent struct {
	Service string `json:"service"`
	PID     int    `json:"pid,omitempty"`
	Health  string `json:"health,omitempty"`
	Output  string `json:"output,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// StackEvent is the payload of stack.* events.
type StackEvent struct {
	Project  string   `json:"project"`
	Services []string `json:"services"`
}
