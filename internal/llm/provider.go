// Package llm defines the provider-agnostic LLM abstraction that the rest of
// the orchestrator talks to. The provider implementations that translate it
// into each vendor's wire dialect live in the providers subpackage.
package llm

import (
	"context"

	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// Message is a single role/content turn sent to a provider. Tool turns carry
// ToolCallID (the call being answered) or ToolCalls (the assistant's own
// invocations), mirroring models.Message but decoupled from conversation
// storage concerns.
type Message struct {
	Role       models.Role
	Content    string
	ToolCallID string
	ToolCalls  []models.ToolCall
}

// Config holds per-request generation parameters. Zero values fall back to
// the provider's own defaults.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	SystemBlock string
}

// Response is the single return shape of Generate.
type Response struct {
	Content   string
	Model     string
	Usage     models.Usage
	ToolCalls []models.ToolCall
}

// Provider is implemented by every LLM wire-dialect adapter (OpenAI-style,
// Anthropic, Ollama, OpenRouter, ...). A Provider has exactly one operation:
// Generate. Tool-loop orchestration, system-prompt injection, and repair
// parsing all live above this interface, not inside it.
type Provider interface {
	// Name identifies the provider for logging/routing, e.g. "anthropic".
	Name() string
	// Generate sends messages to the underlying model and returns its
	// response. providerTools, when non-empty, are offered as native
	// tool-call targets in the dialect this provider expects.
	Generate(ctx context.Context, messages []Message, cfg Config, providerTools []tools.Tool) (*Response, error)
}
