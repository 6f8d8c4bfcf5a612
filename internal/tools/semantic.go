package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/semlin/lineaged/internal/vector"
)

type searchSemanticParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

const defaultSearchLimit = 3

func (p *searchSemanticParams) check() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must be positive")
	}
	return nil
}

func searchSemanticTool(ix *vector.Index, embedder vector.Embedder) Tool {
	return Tool{
		Name:        "search_semantic",
		Description: "Search table and dashboard descriptions by natural language; returns ranked matches with similarity scores",
		validate: func(input json.RawMessage) error {
			var p searchSemanticParams
			if err := decodeParams(input, &p); err != nil {
				return err
			}
			return p.check()
		},
		invoke: func(ctx context.Context, input json.RawMessage) Result {
			var p searchSemanticParams
			if err := decodeParams(input, &p); err != nil {
				return failure(err)
			}
			limit := p.Limit
			if limit == 0 {
				limit = defaultSearchLimit
			}

			queryVec, err := embedder.Embed(ctx, p.Query)
			if err != nil {
				return failure(fmt.Errorf("embed query: %w", err))
			}
			matches, err := ix.Search(ctx, queryVec, limit)
			if err != nil {
				return failure(err)
			}

			items := make([]map[string]any, 0, len(matches))
			scores := make([]float64, 0, len(matches))
			for _, m := range matches {
				items = append(items, map[string]any{
					"id":         m.ID,
					"text":       m.Text,
					"table_name": m.TableName,
					"similarity": m.Similarity,
				})
				scores = append(scores, m.Similarity)
			}
			return success(map[string]any{
				"items":            items,
				"count":            len(items),
				"relevance_scores": scores,
			})
		},
	}
}
