package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/semlin/lineaged/internal/engine"
	"github.com/semlin/lineaged/internal/eventbus"
	"github.com/semlin/lineaged/internal/graph"
	"github.com/semlin/lineaged/internal/runs"
	"github.com/semlin/lineaged/internal/seed"
	"github.com/semlin/lineaged/internal/testutil"
	"github.com/semlin/lineaged/internal/tools"
	"github.com/semlin/lineaged/internal/vector"
)

// newTestServer wires a server over the sample lineage with no language
// model: queries run on the loop's deterministic fallbacks.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)
	t.Cleanup(closeFn)

	ctx := context.Background()
	g := graph.NewStore(db)
	ix := vector.NewIndex(db, 64)
	embedder := vector.NewHashingEmbedder(64)
	if err := seed.Load(ctx, g, ix, embedder); err != nil {
		t.Fatalf("seed: %v", err)
	}

	bus := eventbus.NewBus(db)
	registry := tools.NewRegistry(g, ix, embedder, tools.Options{})
	loop := engine.NewLoop(nil, registry, engine.Options{})
	loop.Events = &eventbus.LoopSink{Bus: bus}

	return &Server{
		Loop:      loop,
		Runs:      runs.NewStore(db),
		Graph:     g,
		Bus:       bus,
		StartedAt: time.Now().UTC(),
	}
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Get("http://in-process/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body, _ := testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", resp.StatusCode, body)
	}
}

func TestQueryEndToEnd(t *testing.T) {
	server := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	payload := []byte(`{"query": "what feeds into the revenue dashboard?"}`)
	resp, err := client.Do(testutil.NewRequest(http.MethodPost, "/api/query", payload))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	body, _ := testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query failed: %d %s", resp.StatusCode, body)
	}

	var run runs.Run
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != "done" || run.FinalAnswer == "" {
		t.Fatalf("expected finished run with answer, got %+v", run)
	}
	if len(run.ToolCalls) == 0 {
		t.Fatalf("expected fallback tool calls, got none")
	}

	// The run is persisted and retrievable.
	resp, err = client.Get("http://in-process/api/runs/" + run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected persisted run, got %d", resp.StatusCode)
	}
	_, _ = testutil.ReadAll(resp)

	resp, err = client.Get("http://in-process/api/runs")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	body, _ = testutil.ReadAll(resp)
	var listed []runs.Run
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != run.ID {
		t.Fatalf("expected one listed run, got %+v", listed)
	}
}

func TestQueryValidation(t *testing.T) {
	server := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Do(testutil.NewRequest(http.MethodPost, "/api/query", []byte(`{"query": ""}`)))
	if err != nil {
		t.Fatalf("empty query: %v", err)
	}
	_, _ = testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", resp.StatusCode)
	}

	resp, err = client.Do(testutil.NewRequest(http.MethodPost, "/api/query", []byte(`{"q": "oops"}`)))
	if err != nil {
		t.Fatalf("unknown field: %v", err)
	}
	_, _ = testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}

	resp, err = client.Get("http://in-process/api/query")
	if err != nil {
		t.Fatalf("get query: %v", err)
	}
	_, _ = testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.StatusCode)
	}
}

func TestNodeEndpoints(t *testing.T) {
	server := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Get("http://in-process/api/nodes/table_orders")
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	body, _ := testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"orders"`) {
		t.Fatalf("unexpected node response: %d %s", resp.StatusCode, body)
	}

	resp, err = client.Get("http://in-process/api/nodes/ghost")
	if err != nil {
		t.Fatalf("missing node: %v", err)
	}
	_, _ = testutil.ReadAll(resp)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = client.Get("http://in-process/api/nodes/dashboard_revenue/upstream?depth=5")
	if err != nil {
		t.Fatalf("upstream: %v", err)
	}
	body, _ = testutil.ReadAll(resp)
	var upstream struct {
		Root         string             `json:"root"`
		Dependencies []graph.Dependency `json:"dependencies"`
	}
	if err := json.Unmarshal(body, &upstream); err != nil {
		t.Fatalf("decode upstream: %v", err)
	}
	if len(upstream.Dependencies) != 4 {
		t.Fatalf("expected 4 upstream nodes, got %+v", upstream.Dependencies)
	}
}

func TestEventsEndpoint(t *testing.T) {
	server := newTestServer(t)
	client := testutil.NewInProcessClient(server.Handler())

	resp, err := client.Do(testutil.NewRequest(http.MethodPost, "/api/query", []byte(`{"query": "where does revenue come from?"}`)))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	body, _ := testutil.ReadAll(resp)
	var run runs.Run
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}

	resp, err = client.Get("http://in-process/api/events?stream=transitions&run_id=" + run.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	body, _ = testutil.ReadAll(resp)
	var events []eventbus.Event
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected transition events for run %s", run.ID)
	}
}

func TestStreamSubscribeSSE(t *testing.T) {
	server := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sr := testutil.NewStreamRecorder()
	req := testutil.NewRequest(http.MethodGet, "/api/streams/subscribe?streams=transitions", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sr.Close()
		server.Handler().ServeHTTP(sr, req)
	}()

	reader := bufio.NewReader(sr.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if !strings.HasPrefix(line, ":ok") {
		t.Fatalf("expected SSE preamble, got %q", line)
	}

	// The handler subscribes asynchronously; wait for it to register.
	deadline := time.Now().Add(time.Second)
	for server.Bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := server.Bus.Push(ctx, eventbus.EventInput{Stream: eventbus.StreamTransitions, RunID: "run-x", State: "planning", Success: true}); err != nil {
		t.Fatalf("push: %v", err)
	}

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, "run-x") {
				t.Fatalf("unexpected event payload: %q", line)
			}
			break
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler did not exit after cancel")
	}
}
