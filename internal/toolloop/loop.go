// Package toolloop wraps an llm.Provider with tool-call coordination: it
// injects a tool catalogue into the system prompt, drives the native
// tool-call loop until the model stops requesting tools, and falls back to
// executing any text-block tool invocations the model emits instead of a
// native call.
package toolloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// defaultMaxTurns bounds the native tool-call loop so a misbehaving model
// cannot spin forever requesting tools.
const defaultMaxTurns = 8

// Result is what a completed tool loop produces: the final assistant text,
// the messages appended along the way (tool calls and their responses), and
// aggregated usage across every provider turn.
type Result struct {
	Content  string
	Turns    int
	Messages []llm.Message
	Usage    models.Usage
}

// Wrapper drives Generate in a loop, executing any tool calls the model
// requests and feeding results back, giving agent runtimes tool-enabled
// coordination on top of a bare Provider.
type Wrapper struct {
	provider *Config
	logger   *slog.Logger
	maxTurns int
}

// Config bundles a provider with the registry it should offer tools from.
type Config struct {
	Provider llm.Provider
	Registry *tools.Registry
	GenCfg   llm.Config
}

// New builds a Wrapper around cfg. A nil logger falls back to slog.Default.
func New(cfg *Config, logger *slog.Logger, maxTurns int) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &Wrapper{provider: cfg, logger: logger.With("component", "toolloop"), maxTurns: maxTurns}
}

// Run executes the tool loop starting from messages, returning the final
// response once the model stops requesting tools (or the turn cap is hit).
func (w *Wrapper) Run(ctx context.Context, messages []llm.Message) (*Result, error) {
	cfg := w.provider.GenCfg
	cfg.SystemBlock = injectToolBlock(cfg.SystemBlock, w.provider.Registry)

	conversation := append([]llm.Message(nil), messages...)
	result := &Result{}

	var providerTools []tools.Tool
	if w.provider.Registry != nil {
		providerTools = w.provider.Registry.List()
	}

	for turn := 1; turn <= w.maxTurns; turn++ {
		resp, err := w.provider.Provider.Generate(ctx, conversation, cfg, providerTools)
		if err != nil {
			return nil, fmt.Errorf("toolloop: generate turn %d: %w", turn, err)
		}
		result.Turns = turn
		result.Usage = result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			// No native tool calls: check for the text-block fallback format
			// before treating this as the final answer.
			content, handled := w.resolveTextBlockTools(ctx, resp.Content)
			result.Content = content
			if handled {
				result.Messages = append(result.Messages, llm.Message{Role: models.RoleAssistant, Content: content})
			}
			return result, nil
		}

		assistantMsg := llm.Message{Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		conversation = append(conversation, assistantMsg)
		result.Messages = append(result.Messages, assistantMsg)

		executor := tools.NewExecutor(w.provider.Registry, w.logger)
		responses := executor.ExecuteConcurrently(ctx, resp.ToolCalls)
		for _, tr := range responses {
			toolMsg := llm.Message{Role: models.RoleTool, Content: tr.Output, ToolCallID: tr.ToolCallID}
			conversation = append(conversation, toolMsg)
			result.Messages = append(result.Messages, toolMsg)
		}
	}

	return nil, fmt.Errorf("toolloop: exceeded max turns (%d) without a final response", w.maxTurns)
}

// injectToolBlock appends a tool catalogue to an existing system prompt, so
// models without native tool-call support can still emit text-block
// invocations.
func injectToolBlock(systemBlock string, registry *tools.Registry) string {
	if registry == nil {
		return systemBlock
	}
	block := registry.SystemPromptBlock()
	if block == "" {
		return systemBlock
	}
	if systemBlock == "" {
		return block
	}
	return systemBlock + "\n\n" + block
}

// resolveTextBlockTools executes any text-block tool invocations (XML
// <tool_use>, bare tool_use object, or bare function_call object) found in
// content, replacing each with "**Tool: <name>**\n<output>" in place. Unlike
// the native loop, this never makes a second provider call: the model's
// first text response is final, with tool invocations resolved inline.
func (w *Wrapper) resolveTextBlockTools(ctx context.Context, content string) (string, bool) {
	invocations := tools.ParseToolInvocations(content)
	if len(invocations) == 0 {
		return content, false
	}

	executor := tools.NewExecutor(w.provider.Registry, w.logger)
	calls := tools.ToolCallsFromInvocations(invocations, func(i int) string { return fmt.Sprintf("textblock-%d", i) })

	out := content
	// Replace from the end so earlier byte offsets stay valid.
	for i := len(invocations) - 1; i >= 0; i-- {
		resp := executor.Execute(ctx, calls[i])
		replacement := fmt.Sprintf("**Tool: %s**\n%s", invocations[i].Name, resp.Output)
		out = out[:invocations[i].Start] + replacement + out[invocations[i].End:]
	}
	return out, true
}
