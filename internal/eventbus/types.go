// Package eventbus records loop instrumentation events in sqlite and fans
// them out to live subscribers. Streams separate state transitions from tool
// invocations so a consumer can watch either without filtering client-side.
package eventbus

import "time"

const (
	StreamTransitions = "transitions"
	StreamToolCalls   = "tool_calls"
)

// Event is one instrumentation record. IDs are ULIDs so lexicographic order
// matches emission order.
type Event struct {
	ID        string    `json:"id"`
	Stream    string    `json:"stream"`
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	State     string    `json:"state"`
	Tool      string    `json:"tool,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Success   bool      `json:"success"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type EventInput struct {
	Stream    string
	RunID     string
	Step      int
	State     string
	Tool      string
	LatencyMS int64
	Success   bool
	Body      string
}

type ListOptions struct {
	// RunID filters to one run; empty matches all runs.
	RunID string
	Limit int
	// Order is "fifo" or "lifo". Default lifo.
	Order string
}
