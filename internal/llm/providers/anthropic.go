// Package providers implements llm.Provider for each wire dialect the
// orchestrator speaks: Anthropic's native API (with an optional prompt-cache
// variant), and the OpenAI-compatible dialect shared by OpenAI itself,
// OpenRouter, and Ollama.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures an AnthropicProvider. All fields but APIKey are
// optional and default as documented.
type AnthropicConfig struct {
	APIKey string
	// BaseURL overrides the default Anthropic API endpoint.
	BaseURL string
	// EnableCache turns on ephemeral prompt-caching of the system block,
	// producing the "anthropic-with-cache" variant. Messages are not marked
	// for caching.
	EnableCache  bool
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicProvider implements llm.Provider over Anthropic's native Messages
// API, optionally marking content for prompt caching.
type AnthropicProvider struct {
	client       anthropic.Client
	enableCache  bool
	defaultModel string
	retry        retrier
}

var _ llm.Provider = (*AnthropicProvider)(nil)

// NewAnthropicProvider builds a provider from cfg.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = defaultAnthropicModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		enableCache:  cfg.EnableCache,
		defaultModel: defaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "anthropic-with-cache" when caching is enabled, else
// "anthropic".
func (p *AnthropicProvider) Name() string {
	if p.enableCache {
		return "anthropic-with-cache"
	}
	return "anthropic"
}

// Generate implements llm.Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, messages []llm.Message, cfg llm.Config, providerTools []tools.Tool) (*llm.Response, error) {
	model := cfg.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	converted, err := p.convertMessages(messages)
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), model, fmt.Errorf("convert messages: %w", err))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if cfg.SystemBlock != "" {
		block := anthropic.TextBlockParam{Type: "text", Text: cfg.SystemBlock}
		if p.enableCache {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}
	if len(providerTools) > 0 {
		toolParams, err := p.convertTools(providerTools)
		if err != nil {
			return nil, llm.NewProviderError(p.Name(), model, fmt.Errorf("convert tools: %w", err))
		}
		params.Tools = toolParams
	}

	var msg *anthropic.Message
	err = p.retry.Do(ctx, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, llm.NewProviderError(p.Name(), model, err)
	}

	return p.toResponse(msg, model), nil
}

func (p *AnthropicProvider) convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func (p *AnthropicProvider) convertTools(toolList []tools.Tool) ([]anthropic.ToolUnionParam, error) {
	specs := tools.AsAnthropicDialect(toolList)
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for i, spec := range specs {
		raw, err := json.Marshal(spec.InputSchema)
		if err != nil {
			return nil, err
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("tool schema for %s: %w", spec.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("tool schema for %s: missing tool definition", toolList[i].Name())
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)
		out = append(out, toolParam)
	}
	return out, nil
}

func (p *AnthropicProvider) toResponse(msg *anthropic.Message, model string) *llm.Response {
	resp := &llm.Response{Model: model}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	resp.Usage = models.Usage{
		PromptTokens:      int(msg.Usage.InputTokens),
		CompletionTokens:  int(msg.Usage.OutputTokens),
		TotalTokens:       int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheCreateTokens: int(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:   int(msg.Usage.CacheReadInputTokens),
	}
	return resp
}
