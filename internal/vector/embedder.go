package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Embedder maps text to a fixed-length vector. Implementations must be pure:
// the same text always yields the same vector for the lifetime of the
// embedder instance.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an Ollama-compatible embeddings endpoint
// (POST {endpoint}/api/embeddings with {"model": ..., "prompt": ...}).
type HTTPEmbedder struct {
	Endpoint string
	Model    string
	Client   *http.Client
}

func NewHTTPEmbedder(endpoint, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		Endpoint: strings.TrimSuffix(endpoint, "/"),
		Model:    model,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  e.Model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("embed response contained no embedding")
	}
	return decoded.Embedding, nil
}

// HashingEmbedder is a deterministic, model-free embedder: each token is
// hashed into a bucket of a fixed-dimension vector, which is then
// L2-normalized. It gives stable, offline semantic-ish similarity (shared
// tokens raise cosine) and is the fallback when no embedding endpoint is
// configured, as well as the embedder used in tests.
type HashingEmbedder struct {
	Dimension int
}

func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashingEmbedder{Dimension: dim}
}

func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dimension)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.Dimension))
		// Second hash bit decides sign so unrelated tokens cancel rather
		// than accumulate.
		var signBytes [8]byte
		binary.BigEndian.PutUint64(signBytes[:], sum)
		if signBytes[0]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
