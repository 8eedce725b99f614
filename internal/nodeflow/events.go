package nodeflow

import "time"

// EventType names a progress milestone.
type EventType string

const (
	EventStart      EventType = "start"
	EventNodeUpdate EventType = "node_update"
	EventPaused     EventType = "paused"
	EventError      EventType = "error"
	EventComplete   EventType = "complete"
)

// Event is a best-effort progress notification. The execution record stays
// the source of truth.
type Event struct {
	Seq         int            `json:"seq"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Time        time.Time      `json:"time"`
}

// Terminal reports whether no further events follow in this invocation.
func (e Event) Terminal() bool {
	return e.Type == EventPaused || e.Type == EventError || e.Type == EventComplete
}
