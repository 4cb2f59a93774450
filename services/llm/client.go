package llm

import (
	"context"
	"fmt"
)

// Params are the generation knobs shared across providers.
type Params struct {
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Completion is one provider response with its token accounting.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Client is the standard interface for any LLM backend.
//
// Complete must respect ctx cancellation and report token usage when the
// provider exposes it; zero counts are acceptable for providers that don't.
type Client interface {
	Provider() string
	Complete(ctx context.Context, model, system, prompt string, params Params) (Completion, error)
}

// Registry maps provider name to client.
type Registry map[string]Client

// Get returns the client for a provider.
func (r Registry) Get(provider string) (Client, error) {
	c, ok := r[provider]
	if !ok {
		return nil, fmt.Errorf("no LLM client configured for provider %q", provider)
	}
	return c, nil
}

// Providers returns the configured provider names.
func (r Registry) Providers() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	return out
}
