package engine

import (
	"context"
	"time"
)

// Event is one structured instrumentation record, emitted at every state
// transition and every tool invocation.
type Event struct {
	RunID   string        `json:"run_id"`
	Step    int           `json:"step"`
	State   Step          `json:"state"`
	Tool    string        `json:"tool,omitempty"`
	Latency time.Duration `json:"latency_ns"`
	Success bool          `json:"success"`
	Detail  string        `json:"detail,omitempty"`
}

// EventSink consumes instrumentation events. The loop never depends on a
// sink being attached; a nil sink drops everything.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

func (l *Loop) emit(ctx context.Context, event Event) {
	if l.Events == nil {
		return
	}
	l.Events.Emit(ctx, event)
}
