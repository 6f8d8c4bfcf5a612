// Package seed loads the bundled sample lineage: four tables and a revenue
// dashboard, wired orders -> order_clean -> revenue_daily -> revenue_dashboard
// with users joining in at the aggregation step. It exists so a fresh
// install can answer questions immediately.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/semlin/lineaged/internal/graph"
	"github.com/semlin/lineaged/internal/vector"
)

type document struct {
	node graph.Node
	text string
}

var sampleNodes = []document{
	{
		node: graph.Node{ID: "table_users", Type: graph.NodeTable, Name: "users", Description: "User master data"},
		text: "Users table contains user_id, email, name, created_at. Source system: production_db",
	},
	{
		node: graph.Node{ID: "table_orders", Type: graph.NodeTable, Name: "orders", Description: "Raw orders"},
		text: "Orders table contains order_id, user_id, amount, order_date. Source system: production_db",
	},
	{
		node: graph.Node{ID: "table_order_clean", Type: graph.NodeTable, Name: "order_clean", Description: "Cleaned orders"},
		text: "Cleaned orders data with validation, deduplication. Transforms: order_raw -> order_clean",
	},
	{
		node: graph.Node{ID: "table_revenue_daily", Type: graph.NodeTable, Name: "revenue_daily", Description: "Daily revenue"},
		text: "Daily revenue aggregated by date. Depends on: order_clean, users. Aggregates to revenue per day",
	},
	{
		node: graph.Node{ID: "dashboard_revenue", Type: graph.NodeDashboard, Name: "revenue_dashboard", Description: "Revenue dashboard"},
		text: "Revenue dashboard displays daily revenue trends. Depends on: revenue_daily",
	},
}

var sampleEdges = []graph.Edge{
	{SourceID: "table_orders", TargetID: "table_order_clean", Type: graph.EdgeFeedsInto},
	{SourceID: "table_order_clean", TargetID: "table_revenue_daily", Type: graph.EdgeFeedsInto},
	{SourceID: "table_users", TargetID: "table_revenue_daily", Type: graph.EdgeFeedsInto},
	{SourceID: "table_revenue_daily", TargetID: "dashboard_revenue", Type: graph.EdgeFeedsInto},
}

func sourceType(node graph.Node) string {
	switch {
	case node.Type == graph.NodeDashboard:
		return "dashboard"
	case node.ID == "table_users" || node.ID == "table_orders":
		return "source"
	default:
		return "transform"
	}
}

// Load writes the sample lineage into both stores. It is idempotent: nodes
// and embeddings are upserted, edges deduplicate on their unique key.
func Load(ctx context.Context, g *graph.Store, ix *vector.Index, embedder vector.Embedder) error {
	for _, doc := range sampleNodes {
		if err := g.UpsertNode(ctx, doc.node); err != nil {
			return fmt.Errorf("seed node %s: %w", doc.node.ID, err)
		}
		vec, err := embedder.Embed(ctx, doc.text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", doc.node.ID, err)
		}
		rec := vector.Record{
			ID:         doc.node.ID,
			Text:       doc.text,
			TableName:  doc.node.Name,
			SourceType: sourceType(doc.node),
			Vector:     vec,
		}
		if err := ix.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("seed embedding %s: %w", doc.node.ID, err)
		}
	}
	for _, edge := range sampleEdges {
		if err := g.UpsertEdge(ctx, edge); err != nil {
			return fmt.Errorf("seed edge %s -> %s: %w", edge.SourceID, edge.TargetID, err)
		}
	}
	return nil
}

// LoadIfEmpty seeds only when the sample lineage is absent, so restarts
// never clobber data loaded by an operator.
func LoadIfEmpty(ctx context.Context, g *graph.Store, ix *vector.Index, embedder vector.Embedder) (bool, error) {
	_, err := g.GetNode(ctx, sampleNodes[0].node.ID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return false, err
	}
	if err := Load(ctx, g, ix, embedder); err != nil {
		return false, err
	}
	return true, nil
}
