package eventbus

import (
	"context"
	"log"

	"github.com/semlin/lineaged/internal/engine"
)

// LoopSink adapts the bus to the loop's EventSink. Tool invocations land on
// the tool_calls stream, everything else on transitions. Persist failures
// are logged and swallowed: instrumentation must never fail a run.
type LoopSink struct {
	Bus *Bus
}

func (s *LoopSink) Emit(ctx context.Context, event engine.Event) {
	stream := StreamTransitions
	if event.State == engine.StepExecuting && event.Tool != "" {
		stream = StreamToolCalls
	}
	// Cancelled runs still emit their terminal event; detach from the
	// run's context so the insert goes through.
	_, err := s.Bus.Push(context.WithoutCancel(ctx), EventInput{
		Stream:    stream,
		RunID:     event.RunID,
		Step:      event.Step,
		State:     string(event.State),
		Tool:      event.Tool,
		LatencyMS: event.Latency.Milliseconds(),
		Success:   event.Success,
		Body:      event.Detail,
	})
	if err != nil {
		log.Printf("eventbus: drop event for run %s: %v", event.RunID, err)
	}
}
