package toolloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// scriptedProvider returns its responses in order, one per Generate call.
type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Generate(ctx context.Context, messages []llm.Message, cfg llm.Config, providerTools []tools.Tool) (*llm.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func echoRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewFuncTool("lookup", "looks things up", nil,
		func(ctx context.Context, args []byte) (*models.ToolResponse, error) {
			return &models.ToolResponse{Output: "42"}, nil
		}))
	return reg
}

func TestWrapper_NativeToolLoopResolvesInOneRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: "", ToolCalls: []models.ToolCall{{ID: "1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}},
		{Content: "the answer is 42"},
	}}
	w := New(&Config{Provider: provider, Registry: echoRegistry()}, nil, 0)

	result, err := w.Run(context.Background(), []llm.Message{{Role: models.RoleUser, Content: "what is it?"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Content != "the answer is 42" {
		t.Fatalf("Content=%q", result.Content)
	}
	if result.Turns != 2 {
		t.Fatalf("Turns=%d, want 2", result.Turns)
	}
}

func TestWrapper_TextBlockFallbackSinglePass(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: `<tool_use>{"tool":"lookup","arguments":{}}</tool_use>`},
	}}
	w := New(&Config{Provider: provider, Registry: echoRegistry()}, nil, 0)

	result, err := w.Run(context.Background(), []llm.Message{{Role: models.RoleUser, Content: "what is it?"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("provider called %d times, want exactly 1 (no second call on text-block fallback)", provider.calls)
	}
	if result.Content != "**Tool: lookup**\n42" {
		t.Fatalf("Content=%q", result.Content)
	}
}

func TestWrapper_MaxTurnsExceeded(t *testing.T) {
	call := &llm.Response{Content: "", ToolCalls: []models.ToolCall{{ID: "1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}}
	responses := make([]*llm.Response, 5)
	for i := range responses {
		responses[i] = call
	}
	provider := &scriptedProvider{responses: responses}
	w := New(&Config{Provider: provider, Registry: echoRegistry()}, nil, 3)

	_, err := w.Run(context.Background(), []llm.Message{{Role: models.RoleUser, Content: "loop forever"}})
	if err == nil {
		t.Fatal("expected an error when the turn cap is exceeded")
	}
}
