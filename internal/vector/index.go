// Package vector stores text embeddings and answers nearest-neighbor
// queries by cosine similarity. All records in one index share a fixed
// dimensionality, enforced at write and query time.
package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DimensionError reports a vector whose length does not match the index.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: index holds %d-dim vectors, got %d", e.Want, e.Got)
}

type Record struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	TableName  string    `json:"table_name,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	Vector     []float32 `json:"-"`
}

// Match is a search hit: a stored record plus its cosine similarity to the
// query vector.
type Match struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	TableName  string  `json:"table_name,omitempty"`
	SourceType string  `json:"source_type,omitempty"`
	Similarity float64 `json:"similarity"`
}

type Index struct {
	db  *sql.DB
	dim int
}

// NewIndex wraps db as a vector index holding dim-dimensional vectors.
// A dim of zero means the dimensionality is adopted from the first upsert.
func NewIndex(db *sql.DB, dim int) *Index {
	return &Index{db: db, dim: dim}
}

func (ix *Index) Dim() int { return ix.dim }

func (ix *Index) Upsert(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("record id is required")
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("record vector is required")
	}
	if ix.dim == 0 {
		ix.dim = len(rec.Vector)
	}
	if len(rec.Vector) != ix.dim {
		return &DimensionError{Want: ix.dim, Got: len(rec.Vector)}
	}

	embedding, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO embeddings (id, text, table_name, source_type, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			table_name = excluded.table_name,
			source_type = excluded.source_type
	`, rec.ID, rec.Text, rec.TableName, rec.SourceType, now)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vectors (id, dim, embedding) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET dim = excluded.dim, embedding = excluded.embedding
	`, rec.ID, ix.dim, string(embedding))
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Search returns up to limit records ranked by cosine similarity to the
// query vector, highest first. Ties keep insertion order; the sort is stable
// over rows read in rowid order.
func (ix *Index) Search(ctx context.Context, query []float32, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if ix.dim != 0 && len(query) != ix.dim {
		return nil, &DimensionError{Want: ix.dim, Got: len(query)}
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT e.id, e.text, e.table_name, e.source_type, v.embedding
		FROM vectors v
		JOIN embeddings e ON v.id = e.id
		ORDER BY v.rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var tableName, sourceType sql.NullString
		var embeddingStr string
		if err := rows.Scan(&m.ID, &m.Text, &tableName, &sourceType, &embeddingStr); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		m.TableName = tableName.String
		m.SourceType = sourceType.String

		var stored []float32
		if err := json.Unmarshal([]byte(embeddingStr), &stored); err != nil {
			return nil, fmt.Errorf("decode vector %q: %w", m.ID, err)
		}
		if len(stored) != len(query) {
			return nil, &DimensionError{Want: len(query), Got: len(stored)}
		}
		m.Similarity = Cosine(query, stored)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vectors: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cosine computes cosine similarity between two equal-length vectors.
// Zero vectors yield similarity 0.
func Cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
