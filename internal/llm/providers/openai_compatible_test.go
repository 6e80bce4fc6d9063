package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/pkg/models"
)

func TestOpenAICompatible_ConvertMessages(t *testing.T) {
	p := &OpenAICompatibleProvider{variant: "openai-compatible", defaultModel: defaultOpenAIModel}

	out := p.convertMessages([]llm.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "foo", Arguments: json.RawMessage(`{"a":1}`)},
		}},
		{Role: models.RoleTool, Content: "result", ToolCallID: "call_1"},
	}, "be helpful")

	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4 (system + 3)", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be helpful" {
		t.Fatalf("system message not prepended correctly: %+v", out[0])
	}
	if out[2].Role != openai.ChatMessageRoleAssistant || len(out[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool call not converted: %+v", out[2])
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "call_1" {
		t.Fatalf("tool response not converted: %+v", out[3])
	}
}

func TestOpenAICompatible_ToResponse(t *testing.T) {
	p := &OpenAICompatibleProvider{variant: "openai-compatible"}
	resp := openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "hello",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "foo", Arguments: `{"a":1}`},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	out := p.toResponse(resp, "gpt-4o")
	if out.Content != "hello" || out.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response: %+v", out)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "foo" {
		t.Fatalf("tool calls not converted: %+v", out.ToolCalls)
	}
}
