package graph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/semlin/lineaged/internal/graph"
	"github.com/semlin/lineaged/internal/testutil"
)

func newTestStore(t *testing.T) *graph.Store {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	t.Cleanup(closeFn)
	return graph.NewStore(db)
}

func addNode(t *testing.T, s *graph.Store, id string) {
	t.Helper()
	err := s.UpsertNode(context.Background(), graph.Node{ID: id, Type: graph.NodeTable, Name: id})
	if err != nil {
		t.Fatalf("upsert node %s: %v", id, err)
	}
}

func addEdge(t *testing.T, s *graph.Store, source, target string) {
	t.Helper()
	err := s.UpsertEdge(context.Background(), graph.Edge{SourceID: source, TargetID: target, Type: graph.EdgeFeedsInto})
	if err != nil {
		t.Fatalf("upsert edge %s -> %s: %v", source, target, err)
	}
}

func TestUpstreamDepthLabels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// d -> c -> b -> a
	for _, id := range []string{"a", "b", "c", "d"} {
		addNode(t, store, id)
	}
	addEdge(t, store, "b", "a")
	addEdge(t, store, "c", "b")
	addEdge(t, store, "d", "c")

	deps, err := store.Upstream(ctx, "a", 3)
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}
	if len(deps) != 3 {
		t.Fatalf("expected 3 dependencies, got %d", len(deps))
	}
	want := map[string]int{"b": 1, "c": 2, "d": 3}
	for _, dep := range deps {
		if want[dep.ID] != dep.Depth {
			t.Fatalf("node %s: expected depth %d, got %d", dep.ID, want[dep.ID], dep.Depth)
		}
	}

	deps, err = store.Upstream(ctx, "a", 1)
	if err != nil {
		t.Fatalf("upstream depth 1: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != "b" {
		t.Fatalf("expected only direct parent b, got %+v", deps)
	}
}

func TestUpstreamDiamondKeepsShortestDepth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// d feeds both b and c; b and c both feed a.
	for _, id := range []string{"a", "b", "c", "d"} {
		addNode(t, store, id)
	}
	addEdge(t, store, "b", "a")
	addEdge(t, store, "c", "a")
	addEdge(t, store, "d", "b")
	addEdge(t, store, "d", "c")

	deps, err := store.Upstream(ctx, "a", 5)
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}
	if len(deps) != 3 {
		t.Fatalf("expected d to appear once, got %+v", deps)
	}
	for _, dep := range deps {
		if dep.ID == "d" && dep.Depth != 2 {
			t.Fatalf("expected d at depth 2, got %d", dep.Depth)
		}
	}
}

func TestUpstreamCycleTerminates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addNode(t, store, "x")
	addNode(t, store, "y")
	addEdge(t, store, "x", "y")
	addEdge(t, store, "y", "x")

	deps, err := store.Upstream(ctx, "x", 5)
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}
	if len(deps) != 1 || deps[0].ID != "y" || deps[0].Depth != 1 {
		t.Fatalf("expected just y at depth 1, got %+v", deps)
	}
}

func TestUpsertEdgeRejectsDanglingReference(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addNode(t, store, "a")
	err := store.UpsertEdge(ctx, graph.Edge{SourceID: "a", TargetID: "ghost", Type: graph.EdgeFeedsInto})
	var dangling *graph.DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Fatalf("expected DanglingReferenceError, got %v", err)
	}
	if dangling.NodeID != "ghost" {
		t.Fatalf("expected ghost in error, got %q", dangling.NodeID)
	}
}

func TestUpsertEdgeRejectsSelfLoop(t *testing.T) {
	store := newTestStore(t)
	addNode(t, store, "a")
	err := store.UpsertEdge(context.Background(), graph.Edge{SourceID: "a", TargetID: "a", Type: graph.EdgeFeedsInto})
	if err == nil {
		t.Fatalf("expected self-loop rejection")
	}
}

func TestPathFollowsEdgeDirection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		addNode(t, store, id)
	}
	addEdge(t, store, "a", "b")
	addEdge(t, store, "b", "c")

	path, err := store.Path(ctx, "a", "c", 10)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(path) != 3 || path[0] != "a" || path[1] != "b" || path[2] != "c" {
		t.Fatalf("expected a-b-c, got %v", path)
	}

	_, err = store.Path(ctx, "c", "a", 10)
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected ErrNotFound against edge direction, got %v", err)
	}
}

func TestPathCycleBounded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addNode(t, store, "x")
	addNode(t, store, "y")
	addNode(t, store, "z")
	addEdge(t, store, "x", "y")
	addEdge(t, store, "y", "x")

	_, err := store.Path(ctx, "x", "z", 10)
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on cyclic dead end, got %v", err)
	}
}

func TestGetNodeNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetNode(context.Background(), "missing")
	if !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertNodeOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addNode(t, store, "a")
	err := store.UpsertNode(ctx, graph.Node{ID: "a", Type: graph.NodeDashboard, Name: "renamed", Description: "updated"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	node, err := store.GetNode(ctx, "a")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if node.Name != "renamed" || node.Type != graph.NodeDashboard {
		t.Fatalf("expected updated node, got %+v", node)
	}
}
