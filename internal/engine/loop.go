package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/semlin/lineaged/internal/tools"
)

// Reasoner is the language model boundary. Implementations must bound their
// own latency; an error covers timeouts and transport failures alike.
type Reasoner interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Options struct {
	MaxSteps            int
	MaxToolCalls        int
	ConfidenceThreshold float64
	// Verbose enables transition logging. It never changes control flow.
	Verbose bool
}

// Loop runs one query at a time; the same Loop value may serve concurrent
// queries because each Run owns a fresh State and the stores behind the
// registry are read-only.
type Loop struct {
	Reasoner Reasoner
	Tools    *tools.Registry
	Scorer   func([]ToolResult) float64
	Events   EventSink
	Opts     Options
}

func NewLoop(reasoner Reasoner, registry *tools.Registry, opts Options) *Loop {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10
	}
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = 3
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = 0.7
	}
	return &Loop{
		Reasoner: reasoner,
		Tools:    registry,
		Scorer:   Confidence,
		Opts:     opts,
	}
}

// Run drives the state machine to a terminal state and returns the final
// State. It never returns an error: reasoner failures degrade to
// deterministic fallbacks and tool failures are recorded as evidence.
// Termination is guaranteed because StepCount grows on every iteration and
// both bounds force the transition into synthesis.
func (l *Loop) Run(ctx context.Context, query string) *State {
	state := newState(query)
	l.logf("run %s: query %q", state.ID, query)

	var pendingTool string
	var pendingInput json.RawMessage

	for !state.CurrentStep.Terminal() {
		if ctx.Err() != nil {
			state.CurrentStep = StepCancelled
			state.FinishedAt = time.Now().UTC()
			l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepCancelled, Success: false, Detail: ctx.Err().Error()})
			l.logf("run %s: cancelled after %d steps", state.ID, state.StepCount)
			return state
		}

		switch state.CurrentStep {
		case StepPlanning:
			l.plan(ctx, state)
		case StepInvestigating:
			if l.boundsReached(state) {
				state.CurrentStep = StepSynthesizing
				continue
			}
			pendingTool, pendingInput = l.investigate(ctx, state)
		case StepExecuting:
			l.execute(ctx, state, pendingTool, pendingInput)
			pendingTool, pendingInput = "", nil
		case StepSynthesizing:
			l.synthesize(ctx, state)
		}
	}
	return state
}

func (l *Loop) boundsReached(state *State) bool {
	return state.StepCount >= l.Opts.MaxSteps || len(state.ToolCalls) >= l.Opts.MaxToolCalls
}

func (l *Loop) plan(ctx context.Context, state *State) {
	start := time.Now()
	out, err := l.generate(ctx, planPrompt(state.Query, l.Tools.Describe()))
	plan := strings.TrimSpace(out)
	if err != nil || plan == "" {
		plan = defaultPlan
	}
	state.Plan = plan
	state.StepCount++
	state.CurrentStep = StepInvestigating

	l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepPlanning, Latency: time.Since(start), Success: err == nil})
	l.logf("run %s: plan ready (%d chars)", state.ID, len(plan))
}

const defaultPlan = `1. Search for tables and dashboards relevant to the question.
2. Inspect the upstream dependencies of the best match.
3. Synthesize an answer from the gathered evidence.`

// investigate asks the model for the next tool. A valid, schema-conforming
// choice moves the loop to Executing; anything else is a no-op step that
// still counts toward the bound.
func (l *Loop) investigate(ctx context.Context, state *State) (string, json.RawMessage) {
	start := time.Now()
	out, err := l.generate(ctx, decisionPrompt(state.Query, state.Plan, l.Tools.Describe(), state.ToolResults))

	var tool string
	var input json.RawMessage
	if err != nil {
		// Reasoner is down: fall back to the first untried catalog tool we
		// can build an input for.
		var ok bool
		tool, input, ok = l.fallbackDecision(state)
		if !ok {
			l.noopStep(ctx, state, start, "reasoner failed and no fallback tool applies")
			return "", nil
		}
	} else {
		var decodeErr error
		tool, input, decodeErr = decodeDecision(out)
		if decodeErr == nil {
			decodeErr = l.Tools.Validate(tool, input)
		}
		if decodeErr != nil {
			l.noopStep(ctx, state, start, decodeErr.Error())
			return "", nil
		}
	}

	state.StepCount++
	state.CurrentStep = StepExecuting
	l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepInvestigating, Tool: tool, Latency: time.Since(start), Success: true})
	l.logf("run %s: chose tool %s", state.ID, tool)
	return tool, input
}

func (l *Loop) noopStep(ctx context.Context, state *State, start time.Time, detail string) {
	state.StepCount++
	l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepInvestigating, Latency: time.Since(start), Success: false, Detail: detail})
	l.logf("run %s: skipped step: %s", state.ID, detail)
}

func (l *Loop) execute(ctx context.Context, state *State, tool string, input json.RawMessage) {
	start := time.Now()
	result, err := l.Tools.Invoke(ctx, tool, input)
	if err != nil {
		// Validation passed earlier, so this is unexpected; treat it like a
		// malformed choice and resume investigating.
		state.StepCount++
		state.CurrentStep = StepInvestigating
		l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepExecuting, Tool: tool, Latency: time.Since(start), Success: false, Detail: err.Error()})
		return
	}
	latency := time.Since(start)
	state.recordResult(tool, input, result, latency)
	state.StepCount++
	state.Confidence = l.Scorer(state.ToolResults)

	l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepExecuting, Tool: tool, Latency: latency, Success: result.Success})
	l.logf("run %s: %s success=%t confidence=%.2f", state.ID, tool, result.Success, state.Confidence)

	if state.Confidence >= l.Opts.ConfidenceThreshold || l.boundsReached(state) {
		state.CurrentStep = StepSynthesizing
		return
	}
	state.CurrentStep = StepInvestigating
}

func (l *Loop) synthesize(ctx context.Context, state *State) {
	start := time.Now()
	out, err := l.generate(ctx, synthesisPrompt(state.Query, state.ToolResults))
	answer := strings.TrimSpace(out)
	if err != nil || answer == "" {
		answer = fallbackAnswer(state)
		state.Confidence = 0
	}
	state.FinalAnswer = answer
	state.StepCount++
	state.CurrentStep = StepDone
	state.FinishedAt = time.Now().UTC()

	l.emit(ctx, Event{RunID: state.ID, Step: state.StepCount, State: StepSynthesizing, Latency: time.Since(start), Success: err == nil})
	l.logf("run %s: done, confidence=%.2f, %d tool calls", state.ID, state.Confidence, len(state.ToolCalls))
}

func fallbackAnswer(state *State) string {
	if len(state.ToolCalls) == 0 {
		return fmt.Sprintf("I could not answer %q: the language model was unavailable and no tools could be run.", state.Query)
	}
	return fmt.Sprintf(
		"I could not produce a grounded answer for %q. The investigation ran %d tool call(s) (%s) but answer synthesis failed; the raw tool results are attached to this run.",
		state.Query, len(state.ToolCalls), strings.Join(state.ToolCalls, ", "))
}

// generate calls the Reasoner, retrying once with the same input. A missing
// Reasoner behaves like a failing one so every caller's fallback applies.
func (l *Loop) generate(ctx context.Context, prompt string) (string, error) {
	if l.Reasoner == nil {
		return "", fmt.Errorf("no reasoner configured")
	}
	out, err := l.Reasoner.Generate(ctx, prompt)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	return l.Reasoner.Generate(ctx, prompt)
}

// fallbackDecision picks the first untried catalog tool for which a default
// input can be built from the query and the evidence gathered so far.
func (l *Loop) fallbackDecision(state *State) (string, json.RawMessage, bool) {
	tried := make(map[string]bool, len(state.ToolCalls))
	for _, name := range state.ToolCalls {
		tried[name] = true
	}
	for _, name := range l.Tools.Names() {
		if tried[name] {
			continue
		}
		input, ok := defaultInput(name, state)
		if !ok {
			continue
		}
		if l.Tools.Validate(name, input) != nil {
			continue
		}
		return name, input, true
	}
	return "", nil, false
}

func defaultInput(tool string, state *State) (json.RawMessage, bool) {
	marshal := func(v any) (json.RawMessage, bool) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return data, true
	}

	switch tool {
	case "search_semantic":
		return marshal(map[string]any{"query": state.Query, "limit": 3})
	case "get_dependencies":
		ids := discoveredNodeIDs(state)
		if len(ids) == 0 {
			return nil, false
		}
		return marshal(map[string]any{"node_id": ids[0], "depth": 3})
	case "get_node_metadata", "check_freshness":
		ids := discoveredNodeIDs(state)
		if len(ids) == 0 {
			return nil, false
		}
		return marshal(map[string]any{"node_id": ids[0]})
	case "validate_path":
		ids := discoveredNodeIDs(state)
		if len(ids) < 2 {
			return nil, false
		}
		return marshal(map[string]any{"source_id": ids[0], "target_id": ids[1]})
	case "trace_flow":
		ids := discoveredNodeIDs(state)
		if len(ids) < 2 {
			return nil, false
		}
		return marshal(map[string]any{"start_node": ids[1], "end_node": ids[0]})
	}
	return nil, false
}

// discoveredNodeIDs collects node ids surfaced by earlier successful
// searches, best match first.
func discoveredNodeIDs(state *State) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range state.ToolResults {
		if !r.Result.Success || r.Tool != "search_semantic" {
			continue
		}
		items, ok := r.Result.Data["items"].([]map[string]any)
		if !ok {
			continue
		}
		for _, item := range items {
			id, _ := item["id"].(string)
			if id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func (l *Loop) logf(format string, args ...any) {
	if !l.Opts.Verbose {
		return
	}
	log.Printf("engine: "+format, args...)
}
