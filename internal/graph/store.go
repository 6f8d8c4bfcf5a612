// Package graph stores the data lineage dependency graph: nodes for tables,
// dashboards, queries and columns, and directed typed edges between them.
// All query operations are pure reads and safe for concurrent use.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/semlin/lineaged/internal/idgen"
)

// Edge types that participate in lineage traversal. Both are treated
// uniformly: the source of the edge is upstream of the target.
const (
	EdgeFeedsInto = "FEEDS_INTO"
	EdgeDependsOn = "DEPENDS_ON"
)

// Node types.
const (
	NodeTable     = "Table"
	NodeDashboard = "Dashboard"
	NodeQuery     = "Query"
	NodeColumn    = "Column"
)

var ErrNotFound = errors.New("node not found")

// DanglingReferenceError reports an edge whose endpoint does not exist.
type DanglingReferenceError struct {
	NodeID string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("edge references unknown node %q", e.NodeID)
}

type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Edge struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      string    `json:"edge_type"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// Dependency is one upstream node found by traversal, labeled with the
// minimum hop count at which it was reached. Direct parents have depth 1.
type Dependency struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Depth int    `json:"depth"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertNode(ctx context.Context, node Node) error {
	if strings.TrimSpace(node.ID) == "" {
		return fmt.Errorf("node id is required")
	}
	if strings.TrimSpace(node.Name) == "" {
		return fmt.Errorf("node name is required")
	}
	metadataJSON, err := encodeJSON(node.Metadata)
	if err != nil {
		return fmt.Errorf("encode node metadata: %w", err)
	}
	createdAt := node.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, node_type, name, description, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			node_type = excluded.node_type,
			name = excluded.name,
			description = excluded.description,
			metadata = excluded.metadata
	`, node.ID, node.Type, node.Name, nullString(node.Description), metadataJSON, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

func (s *Store) UpsertEdge(ctx context.Context, edge Edge) error {
	if edge.SourceID == edge.TargetID {
		return fmt.Errorf("self-loop edge %q -> %q is not allowed", edge.SourceID, edge.TargetID)
	}
	if strings.TrimSpace(edge.Type) == "" {
		return fmt.Errorf("edge type is required")
	}
	for _, id := range []string{edge.SourceID, edge.TargetID} {
		exists, err := s.nodeExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return &DanglingReferenceError{NodeID: id}
		}
	}
	weight := edge.Weight
	if weight == 0 {
		weight = 1.0
	}
	createdAt := edge.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (id, source_id, target_id, edge_type, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, edge_type) DO UPDATE SET weight = excluded.weight
	`, idgen.Invocation(), edge.SourceID, edge.TargetID, edge.Type, weight, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, id string) (Node, error) {
	var node Node
	var description, metadataStr sql.NullString
	var createdAtStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, node_type, name, description, metadata, created_at FROM nodes WHERE id = ?
	`, id).Scan(&node.ID, &node.Type, &node.Name, &description, &metadataStr, &createdAtStr)
	if err == sql.ErrNoRows {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Node{}, fmt.Errorf("get node: %w", err)
	}
	node.Description = description.String
	node.Metadata = decodeJSONMap(metadataStr.String)
	node.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	return node, nil
}

// Upstream returns every node reachable by following lineage edges backward
// from nodeID within depth hops. Each node is labeled with its shortest-path
// depth; a node reachable at several depths appears once at the smallest.
// Traversal is breadth-first, so cycles truncate naturally: a node already
// visited is never re-expanded. Output is sorted by (depth, id) to keep
// results deterministic.
func (s *Store) Upstream(ctx context.Context, nodeID string, depth int) ([]Dependency, error) {
	if depth <= 0 {
		return nil, nil
	}
	visited := map[string]int{nodeID: 0}
	frontier := []string{nodeID}

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		parents, err := s.parentsOf(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, id := range parents {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = hop
			next = append(next, id)
		}
		frontier = next
	}

	delete(visited, nodeID)
	if len(visited) == 0 {
		return nil, nil
	}

	deps, err := s.describeNodes(ctx, visited)
	if err != nil {
		return nil, err
	}
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Depth != deps[j].Depth {
			return deps[i].Depth < deps[j].Depth
		}
		return deps[i].ID < deps[j].ID
	})
	return deps, nil
}

// Path returns the shortest directed path from one node to another following
// lineage edges forward (source feeds into target), including both endpoints.
// Returns ErrNotFound when no path exists. maxHops bounds the search so
// cyclic edge data cannot loop it.
func (s *Store) Path(ctx context.Context, from, to string, maxHops int) ([]string, error) {
	if maxHops <= 0 {
		maxHops = 10
	}
	if from == to {
		return []string{from}, nil
	}
	cameFrom := map[string]string{from: ""}
	frontier := []string{from}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		children, err := s.childrenOf(ctx, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, pair := range children {
			if _, seen := cameFrom[pair.child]; seen {
				continue
			}
			cameFrom[pair.child] = pair.parent
			if pair.child == to {
				return assemblePath(cameFrom, from, to), nil
			}
			next = append(next, pair.child)
		}
		frontier = next
	}
	return nil, fmt.Errorf("%w: no path from %s to %s", ErrNotFound, from, to)
}

func assemblePath(cameFrom map[string]string, from, to string) []string {
	var path []string
	for at := to; at != ""; at = cameFrom[at] {
		path = append(path, at)
		if at == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// parentsOf returns the sources of lineage edges into any of the given
// nodes, sorted by id for deterministic expansion order.
func (s *Store) parentsOf(ctx context.Context, ids []string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT source_id FROM edges
		WHERE target_id IN (%s) AND edge_type IN (?, ?)
		ORDER BY source_id
	`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, EdgeFeedsInto, EdgeDependsOn)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query parents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parents: %w", err)
	}
	return out, nil
}

type parentChild struct {
	parent string
	child  string
}

func (s *Store) childrenOf(ctx context.Context, ids []string) ([]parentChild, error) {
	query := fmt.Sprintf(`
		SELECT target_id, source_id FROM edges
		WHERE source_id IN (%s) AND edge_type IN (?, ?)
		ORDER BY target_id
	`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, EdgeFeedsInto, EdgeDependsOn)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var out []parentChild
	for rows.Next() {
		var pair parentChild
		if err := rows.Scan(&pair.child, &pair.parent); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return out, nil
}

func (s *Store) describeNodes(ctx context.Context, depths map[string]int) ([]Dependency, error) {
	ids := make([]string, 0, len(depths))
	for id := range depths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	query := fmt.Sprintf(`SELECT id, name, node_type FROM nodes WHERE id IN (%s)`, placeholders(len(ids)))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describe nodes: %w", err)
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var dep Dependency
		if err := rows.Scan(&dep.ID, &dep.Name, &dep.Type); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		dep.Depth = depths[dep.ID]
		out = append(out, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependencies: %w", err)
	}
	return out, nil
}

func (s *Store) nodeExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM nodes WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check node %q: %w", id, err)
	}
	return n > 0, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
