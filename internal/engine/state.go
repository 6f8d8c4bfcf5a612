// Package engine drives one lineage investigation: it plans with the
// language model, picks and executes tools, scores the accumulated evidence,
// and synthesizes a grounded final answer. The loop is an explicit bounded
// state machine, never recursion.
package engine

import (
	"encoding/json"
	"time"

	"github.com/semlin/lineaged/internal/idgen"
	"github.com/semlin/lineaged/internal/tools"
)

// Step is the loop's current phase. Done and Cancelled are terminal.
type Step string

const (
	StepPlanning      Step = "planning"
	StepInvestigating Step = "investigating"
	StepExecuting     Step = "executing"
	StepSynthesizing  Step = "synthesizing"
	StepDone          Step = "done"
	StepCancelled     Step = "cancelled"
)

func (s Step) Terminal() bool {
	return s == StepDone || s == StepCancelled
}

// ToolResult records one tool invocation. Entries are append-only for the
// lifetime of a run and every entry is serialized into the synthesis prompt.
type ToolResult struct {
	InvocationID string          `json:"invocation_id"`
	Tool         string          `json:"tool"`
	Input        json.RawMessage `json:"input,omitempty"`
	Result       tools.Result    `json:"result"`
	Latency      time.Duration   `json:"latency_ns"`
	At           time.Time       `json:"at"`
}

// State is the mutable record of one run. It is owned exclusively by the
// loop that created it; callers read it only after Run returns.
type State struct {
	ID          string       `json:"id"`
	Query       string       `json:"query"`
	Plan        string       `json:"plan,omitempty"`
	CurrentStep Step         `json:"current_step"`
	StepCount   int          `json:"step_count"`
	ToolCalls   []string     `json:"tool_calls_made"`
	ToolResults []ToolResult `json:"tool_results"`
	Confidence  float64      `json:"confidence_score"`
	FinalAnswer string       `json:"final_answer,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

func newState(query string) *State {
	return &State{
		ID:          idgen.Run(),
		Query:       query,
		CurrentStep: StepPlanning,
		StartedAt:   time.Now().UTC(),
	}
}

func (s *State) recordResult(tool string, input json.RawMessage, result tools.Result, latency time.Duration) {
	s.ToolResults = append(s.ToolResults, ToolResult{
		InvocationID: idgen.Invocation(),
		Tool:         tool,
		Input:        input,
		Result:       result,
		Latency:      latency,
		At:           time.Now().UTC(),
	})
	s.ToolCalls = append(s.ToolCalls, tool)
}
