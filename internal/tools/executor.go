package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// Executor dispatches models.ToolCall values against a Registry, validating
// required parameters, performing fuzzy name resolution, and never letting a
// tool panic escape.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor builds an Executor over registry. A nil logger falls back to
// slog.Default(), keeping the component logger always non-nil.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger.With("component", "tools.executor")}
}

// Execute runs a single tool call, handling fuzzy resolution, required-param
// validation, and panic recovery.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) (resp *models.ToolResponse) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", call.Name, "tool_call_id", call.ID, "panic", r)
			resp = &models.ToolResponse{ToolCallID: call.ID, Output: fmt.Sprintf("Error: tool panicked: %v", r)}
		}
	}()

	tool, resolved, ok := e.registry.Get(call.Name)
	if !ok {
		return &models.ToolResponse{ToolCallID: call.ID, Output: "Error: tool not found: " + call.Name}
	}
	if resolved != call.Name {
		e.logger.Info("normalized tool name", "from", call.Name, "to", resolved)
	}

	if missing := validateArgs(tool.Params(), call.Arguments); len(missing) > 0 {
		return &models.ToolResponse{
			ToolCallID: call.ID,
			Output:     "Error: Missing required parameters: " + strings.Join(missing, ", "),
		}
	}
	if err := validateAgainstSchema(tool.Params(), call.Arguments); err != nil {
		return &models.ToolResponse{ToolCallID: call.ID, Output: "Error: invalid arguments: " + err.Error()}
	}

	out, err := tool.Execute(ctx, normalizeArgs(call.Arguments))
	if err != nil {
		return &models.ToolResponse{ToolCallID: call.ID, Output: "Error: " + err.Error()}
	}
	if out == nil {
		out = &models.ToolResponse{}
	}
	out.ToolCallID = call.ID
	return out
}

// normalizeArgs substitutes an empty object for missing/empty arguments so
// tools always receive parseable JSON.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

// ExecuteConcurrently runs every call in calls in parallel and returns
// responses in the same order as the input.
func (e *Executor) ExecuteConcurrently(ctx context.Context, calls []models.ToolCall) []*models.ToolResponse {
	responses := make([]*models.ToolResponse, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c models.ToolCall) {
			defer wg.Done()
			responses[idx] = e.Execute(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return responses
}
