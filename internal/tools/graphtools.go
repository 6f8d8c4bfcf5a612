package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/semlin/lineaged/internal/graph"
)

type getDependenciesParams struct {
	NodeID string `json:"node_id"`
	Depth  int    `json:"depth,omitempty"`
}

const defaultDependencyDepth = 3

func (p *getDependenciesParams) check() error {
	if p.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if p.Depth < 0 {
		return fmt.Errorf("depth must be non-negative")
	}
	return nil
}

func getDependenciesTool(g *graph.Store, depthCap int) Tool {
	return Tool{
		Name:        "get_dependencies",
		Description: "List the upstream dependencies of a node (what feeds into it), labeled with hop depth",
		validate: func(input json.RawMessage) error {
			var p getDependenciesParams
			if err := decodeParams(input, &p); err != nil {
				return err
			}
			return p.check()
		},
		invoke: func(ctx context.Context, input json.RawMessage) Result {
			var p getDependenciesParams
			if err := decodeParams(input, &p); err != nil {
				return failure(err)
			}
			depth := p.Depth
			if depth == 0 {
				depth = defaultDependencyDepth
			}
			if depth > depthCap {
				depth = depthCap
			}

			deps, err := g.Upstream(ctx, p.NodeID, depth)
			if err != nil {
				return failure(err)
			}
			names := make([]string, 0, len(deps))
			for _, dep := range deps {
				names = append(names, dep.Name)
			}
			return success(map[string]any{
				"root":             p.NodeID,
				"dependencies":     deps,
				"dependency_names": names,
				"dependency_count": len(deps),
				"depth_used":       depth,
			})
		},
	}
}

type validatePathParams struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

func (p *validatePathParams) check() error {
	if p.SourceID == "" || p.TargetID == "" {
		return fmt.Errorf("source_id and target_id are required")
	}
	return nil
}

func validatePathTool(g *graph.Store, maxHops int) Tool {
	return Tool{
		Name:        "validate_path",
		Description: "Check whether two nodes lie on one lineage chain; reports the hop count when they do",
		validate: func(input json.RawMessage) error {
			var p validatePathParams
			if err := decodeParams(input, &p); err != nil {
				return err
			}
			return p.check()
		},
		invoke: func(ctx context.Context, input json.RawMessage) Result {
			var p validatePathParams
			if err := decodeParams(input, &p); err != nil {
				return failure(err)
			}

			// Lineage chains are valid regardless of which endpoint the
			// caller names first, so both orientations are tried.
			path, err := g.Path(ctx, p.SourceID, p.TargetID, maxHops)
			if err != nil && errors.Is(err, graph.ErrNotFound) {
				path, err = g.Path(ctx, p.TargetID, p.SourceID, maxHops)
			}
			if err != nil {
				if errors.Is(err, graph.ErrNotFound) {
					return success(map[string]any{
						"is_valid":    false,
						"path_length": nil,
						"source":      p.SourceID,
						"target":      p.TargetID,
					})
				}
				return failure(err)
			}
			return success(map[string]any{
				"is_valid":    true,
				"path_length": len(path) - 1,
				"path":        path,
				"source":      p.SourceID,
				"target":      p.TargetID,
			})
		},
	}
}

type getNodeMetadataParams struct {
	NodeID string `json:"node_id"`
}

func (p *getNodeMetadataParams) check() error {
	if p.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	return nil
}

func getNodeMetadataTool(g *graph.Store) Tool {
	return Tool{
		Name:        "get_node_metadata",
		Description: "Fetch the full record for one node: name, type, description, metadata",
		validate: func(input json.RawMessage) error {
			var p getNodeMetadataParams
			if err := decodeParams(input, &p); err != nil {
				return err
			}
			return p.check()
		},
		invoke: func(ctx context.Context, input json.RawMessage) Result {
			var p getNodeMetadataParams
			if err := decodeParams(input, &p); err != nil {
				return failure(err)
			}
			node, err := g.GetNode(ctx, p.NodeID)
			if err != nil {
				return failure(err)
			}
			return success(map[string]any{
				"id":          node.ID,
				"name":        node.Name,
				"type":        node.Type,
				"description": node.Description,
				"metadata":    node.Metadata,
				"created_at":  node.CreatedAt,
			})
		},
	}
}

type traceFlowParams struct {
	StartNode string `json:"start_node"`
	EndNode   string `json:"end_node"`
}

func (p *traceFlowParams) check() error {
	if p.StartNode == "" || p.EndNode == "" {
		return fmt.Errorf("start_node and end_node are required")
	}
	return nil
}

func traceFlowTool(g *graph.Store, maxHops int) Tool {
	return Tool{
		Name:        "trace_flow",
		Description: "Trace the ordered flow path from a source node to a destination node",
		validate: func(input json.RawMessage) error {
			var p traceFlowParams
			if err := decodeParams(input, &p); err != nil {
				return err
			}
			return p.check()
		},
		invoke: func(ctx context.Context, input json.RawMessage) Result {
			var p traceFlowParams
			if err := decodeParams(input, &p); err != nil {
				return failure(err)
			}
			path, err := g.Path(ctx, p.StartNode, p.EndNode, maxHops)
			if err != nil {
				return failure(err)
			}
			return success(map[string]any{
				"start":       p.StartNode,
				"end":         p.EndNode,
				"path":        path,
				"path_length": len(path),
			})
		},
	}
}

type checkFreshnessParams struct {
	NodeID string `json:"node_id"`
}

func (p *checkFreshnessParams) check() error {
	if p.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	return nil
}

// Freshness decays exponentially with node age: half the score is lost every
// seven days since the node record was created.
const freshnessHalfLife = 7 * 24 * time.Hour

func checkFreshnessTool(g *graph.Store) Tool {
	return Tool{
		Name:        "check_freshness",
		Description: "Score how fresh a node's data is based on its last recorded update",
		validate: func(input json.RawMessage) error {
			var p checkFreshnessParams
			if err := decodeParams(input, &p); err != nil {
				return err
			}
			return p.check()
		},
		invoke: func(ctx context.Context, input json.RawMessage) Result {
			var p checkFreshnessParams
			if err := decodeParams(input, &p); err != nil {
				return failure(err)
			}
			node, err := g.GetNode(ctx, p.NodeID)
			if err != nil {
				return failure(err)
			}
			age := time.Since(node.CreatedAt)
			if age < 0 {
				age = 0
			}
			score := math.Exp2(-age.Hours() / freshnessHalfLife.Hours())
			return success(map[string]any{
				"node_id":         p.NodeID,
				"freshness_score": score,
				"last_updated":    node.CreatedAt,
			})
		},
	}
}
