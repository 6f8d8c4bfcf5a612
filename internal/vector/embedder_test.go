package vector

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "daily revenue aggregated by date")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "daily revenue aggregated by date")
	if err != nil {
		t.Fatalf("embed again: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected dim 64, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d", i)
		}
	}
}

func TestHashingEmbedderUnitNorm(t *testing.T) {
	e := NewHashingEmbedder(128)
	vec, err := e.Embed(context.Background(), "orders table contains order_id and amount")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit norm, got %f", norm)
	}
}

func TestHashingEmbedderSharedTokensRaiseSimilarity(t *testing.T) {
	e := NewHashingEmbedder(256)
	ctx := context.Background()

	revenue, _ := e.Embed(ctx, "daily revenue aggregated per day")
	related, _ := e.Embed(ctx, "revenue dashboard shows daily trends")
	unrelated, _ := e.Embed(ctx, "kubernetes pod scheduling internals")

	if Cosine(revenue, related) <= Cosine(revenue, unrelated) {
		t.Fatalf("expected shared tokens to score higher: related=%f unrelated=%f",
			Cosine(revenue, related), Cosine(revenue, unrelated))
	}
}

func TestHTTPEmbedder(t *testing.T) {
	var gotModel, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		gotPrompt = req.Prompt
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "nomic-embed-text")
	vec, err := e.Embed(context.Background(), "what feeds into revenue?")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 values, got %d", len(vec))
	}
	if gotModel != "nomic-embed-text" || gotPrompt != "what feeds into revenue?" {
		t.Fatalf("unexpected request: model=%q prompt=%q", gotModel, gotPrompt)
	}
}

func TestHTTPEmbedderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, "nomic-embed-text")
	if _, err := e.Embed(context.Background(), "anything"); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}
