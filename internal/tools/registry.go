// Package tools is the fixed catalog of read-only capabilities the agent can
// invoke: semantic search over the vector index and traversal queries over
// the dependency graph. Tool inputs are strictly validated before execution;
// the language model never reaches a store directly.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/semlin/lineaged/internal/graph"
	"github.com/semlin/lineaged/internal/vector"
)

// InputError means the requested tool does not exist or its input failed
// schema validation. The loop treats it as a skipped step, never a crash.
type InputError struct {
	Tool string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("tool %q: invalid input: %v", e.Tool, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Result is the uniform tool output. Data fields are flattened next to
// "success" when serialized, matching the shape tools report to the model.
type Result struct {
	Success bool
	Error   string
	Data    map[string]any
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses the flattening so persisted results round-trip.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["success"].(bool); ok {
		r.Success = v
	}
	delete(raw, "success")
	if v, ok := raw["error"].(string); ok {
		r.Error = v
	}
	delete(raw, "error")
	if len(raw) > 0 {
		r.Data = raw
	}
	return nil
}

func success(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

type Tool struct {
	Name        string
	Description string
	validate    func(input json.RawMessage) error
	invoke      func(ctx context.Context, input json.RawMessage) Result
}

// Registry holds the catalog in a fixed order. All tools are pure reads over
// the stores, so a single registry is safe for concurrent agent runs.
type Registry struct {
	catalog []Tool
	byName  map[string]Tool
}

// Options tunes traversal bounds. Zero values select the defaults.
type Options struct {
	// DepthCap bounds get_dependencies traversal. Default 5.
	DepthCap int
	// MaxPathHops bounds path searches for validate_path and trace_flow.
	// Default 10.
	MaxPathHops int
}

func NewRegistry(g *graph.Store, ix *vector.Index, embedder vector.Embedder, opts Options) *Registry {
	if opts.DepthCap <= 0 {
		opts.DepthCap = 5
	}
	if opts.MaxPathHops <= 0 {
		opts.MaxPathHops = 10
	}

	catalog := []Tool{
		searchSemanticTool(ix, embedder),
		getDependenciesTool(g, opts.DepthCap),
		validatePathTool(g, opts.MaxPathHops),
		getNodeMetadataTool(g),
		traceFlowTool(g, opts.MaxPathHops),
		checkFreshnessTool(g),
	}
	byName := make(map[string]Tool, len(catalog))
	for _, tool := range catalog {
		byName[tool.Name] = tool
	}
	return &Registry{catalog: catalog, byName: byName}
}

// Names returns the catalog's tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.catalog))
	for _, tool := range r.catalog {
		out = append(out, tool.Name)
	}
	return out
}

// Describe renders the catalog for inclusion in a prompt.
func (r *Registry) Describe() string {
	var buf bytes.Buffer
	for i, tool := range r.catalog {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, tool.Name, tool.Description)
	}
	return buf.String()
}

// Validate checks that name is in the catalog and input decodes against the
// tool's schema. Returns an InputError otherwise.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	tool, ok := r.byName[name]
	if !ok {
		return &InputError{Tool: name, Err: fmt.Errorf("unknown tool")}
	}
	if err := tool.validate(input); err != nil {
		return &InputError{Tool: name, Err: err}
	}
	return nil
}

// Invoke validates and runs the named tool. A non-nil error is always an
// InputError; execution failures are reported inside the Result.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (Result, error) {
	tool, ok := r.byName[name]
	if !ok {
		return Result{}, &InputError{Tool: name, Err: fmt.Errorf("unknown tool")}
	}
	if err := tool.validate(input); err != nil {
		return Result{}, &InputError{Tool: name, Err: err}
	}
	return tool.invoke(ctx, input), nil
}

func decodeParams(input json.RawMessage, dest any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	return nil
}
