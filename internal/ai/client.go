// Package ai wraps the language model behind a single Generate call. The
// agent loop treats the model as a non-deterministic text function; provider
// selection and transport live here.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flitsinc/go-llms/anthropic"
	"github.com/flitsinc/go-llms/content"
	"github.com/flitsinc/go-llms/google"
	"github.com/flitsinc/go-llms/llms"
	"github.com/flitsinc/go-llms/openai"
)

// ReasonerError wraps any model failure: transport errors, provider errors,
// and per-call timeouts all surface as this one kind so the loop can apply a
// single retry-then-fallback policy.
type ReasonerError struct {
	Err error
}

func (e *ReasonerError) Error() string {
	return fmt.Sprintf("reasoner: %v", e.Err)
}

func (e *ReasonerError) Unwrap() error { return e.Err }

type Config struct {
	Provider string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

type Client struct {
	LLM    *llms.LLM
	config Config
}

func NewClient(cfg Config) (*Client, error) {
	llm, err := newLLM(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{LLM: llm, config: cfg}, nil
}

func newLLM(cfg Config) (*llms.LLM, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}

	var provider llms.Provider
	switch cfg.Provider {
	case "openai-responses":
		provider = openai.NewResponsesAPI(cfg.APIKey, cfg.Model)
	case "openai-chat":
		provider = openai.NewChatCompletionsAPI(cfg.APIKey, cfg.Model)
	case "anthropic":
		model := anthropic.New(cfg.APIKey, cfg.Model)
		model.WithMaxTokens(8192)
		provider = model
	case "google":
		provider = google.New(cfg.Model).WithGeminiAPI(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return llms.New(provider), nil
}

// Generate sends one prompt and returns the model's full text output. The
// call is bounded by the configured timeout; timeouts and provider errors
// both return a ReasonerError.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.LLM == nil {
		return "", &ReasonerError{Err: errors.New("no language model configured")}
	}

	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var sb strings.Builder
	updates := c.LLM.ChatUsingMessages(ctx, []llms.Message{
		{Role: "user", Content: content.FromText(prompt)},
	})
	for update := range updates {
		if textUpdate, ok := update.(llms.TextUpdate); ok {
			sb.WriteString(textUpdate.Text)
		}
	}
	if err := c.LLM.Err(); err != nil {
		return "", &ReasonerError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &ReasonerError{Err: err}
	}
	return sb.String(), nil
}
