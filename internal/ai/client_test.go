package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/flitsinc/go-llms/content"
	"github.com/flitsinc/go-llms/llms"
	llmtools "github.com/flitsinc/go-llms/tools"
)

type fakeProvider struct {
	text string
	err  error
}

type fakeStream struct {
	text string
	err  error
}

func (p *fakeProvider) Company() string              { return "fake" }
func (p *fakeProvider) Model() string                { return "fake" }
func (p *fakeProvider) SetDebugger(d llms.Debugger)  {}
func (p *fakeProvider) SetHTTPClient(_ *http.Client) {}

func (p *fakeProvider) Generate(_ context.Context, _ content.Content, _ []llms.Message, _ *llmtools.Toolbox, _ *llmtools.ValueSchema) llms.ProviderStream {
	return &fakeStream{text: p.text, err: p.err}
}

func (s *fakeStream) Err() error               { return s.err }
func (s *fakeStream) Message() llms.Message    { return llms.Message{Role: "assistant", Content: content.FromText(s.text)} }
func (s *fakeStream) Text() string             { return s.text }
func (s *fakeStream) Image() (string, string)  { return "", "" }
func (s *fakeStream) Audio() (string, string)  { return "", "" }
func (s *fakeStream) Thought() content.Thought { return content.Thought{} }
func (s *fakeStream) ToolCall() llms.ToolCall  { return llms.ToolCall{} }
func (s *fakeStream) Usage() llms.Usage        { return llms.Usage{} }
func (s *fakeStream) Iter() func(func(llms.StreamStatus) bool) {
	return func(yield func(llms.StreamStatus) bool) {
		if s.err != nil {
			return
		}
		yield(llms.StreamStatusText)
	}
}

func TestGenerateCollectsText(t *testing.T) {
	client := &Client{LLM: llms.New(&fakeProvider{text: "revenue_daily feeds the dashboard"})}

	out, err := client.Generate(context.Background(), "what feeds the dashboard?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "revenue_daily feeds the dashboard" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestGenerateProviderError(t *testing.T) {
	client := &Client{LLM: llms.New(&fakeProvider{err: errors.New("boom")})}

	_, err := client.Generate(context.Background(), "anything")
	var reasonerErr *ReasonerError
	if !errors.As(err, &reasonerErr) {
		t.Fatalf("expected ReasonerError, got %v", err)
	}
}

func TestGenerateNilClient(t *testing.T) {
	var client *Client
	_, err := client.Generate(context.Background(), "anything")
	var reasonerErr *ReasonerError
	if !errors.As(err, &reasonerErr) {
		t.Fatalf("expected ReasonerError from nil client, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{Provider: "smoke-signals", Model: "m", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for unsupported provider")
	}
	if _, err := NewClient(Config{Provider: "anthropic", Model: "m"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if _, err := NewClient(Config{Provider: "anthropic", APIKey: "k"}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
