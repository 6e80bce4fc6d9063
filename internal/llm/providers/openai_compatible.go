package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/pkg/models"
)

const (
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenRouterModel = "openai/gpt-4o"
	defaultOllamaBaseURL   = "http://localhost:11434/v1"
	defaultOllamaModel     = "llama3.1"
	openRouterBaseURL      = "https://openrouter.ai/api/v1"
)

// OpenAICompatibleConfig configures an OpenAICompatibleProvider. It covers
// three provider variants — "openai-compatible", "openrouter", and "ollama"
// — which all speak the same chat-completions wire dialect and differ only
// in base URL, default model, and headers.
type OpenAICompatibleConfig struct {
	// Variant selects defaults and the Name() this provider reports: one of
	// "openai-compatible", "openrouter", "ollama".
	Variant string
	APIKey  string
	// BaseURL overrides the variant's default endpoint.
	BaseURL      string
	DefaultModel string
	// AppName and SiteURL are sent as OpenRouter's identification headers;
	// ignored by other variants.
	AppName    string
	SiteURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAICompatibleProvider implements llm.Provider for any backend speaking
// the OpenAI chat-completions dialect.
type OpenAICompatibleProvider struct {
	client       *openai.Client
	variant      string
	defaultModel string
	retry        retrier
}

var _ llm.Provider = (*OpenAICompatibleProvider)(nil)

// NewOpenAICompatibleProvider builds a provider for cfg.Variant, applying
// that variant's base URL and default model when left unset.
func NewOpenAICompatibleProvider(cfg OpenAICompatibleConfig) (*OpenAICompatibleProvider, error) {
	variant := cfg.Variant
	if variant == "" {
		variant = "openai-compatible"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	switch variant {
	case "openrouter":
		if cfg.APIKey == "" {
			return nil, errors.New("openrouter: API key is required")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		clientCfg.BaseURL = baseURL
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		clientCfg.BaseURL = baseURL
	default:
		if cfg.APIKey == "" {
			return nil, errors.New("openai: API key is required")
		}
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	}

	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		switch variant {
		case "openrouter":
			defaultModel = defaultOpenRouterModel
		case "ollama":
			defaultModel = defaultOllamaModel
		default:
			defaultModel = defaultOpenAIModel
		}
	}

	return &OpenAICompatibleProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		variant:      variant,
		defaultModel: defaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the variant identifier this provider was configured with.
func (p *OpenAICompatibleProvider) Name() string {
	return p.variant
}

// Generate implements llm.Provider.
func (p *OpenAICompatibleProvider) Generate(ctx context.Context, messages []llm.Message, cfg llm.Config, providerTools []tools.Tool) (*llm.Response, error) {
	model := cfg.Model
	if model == "" {
		model = p.defaultModel
	}

	chatMessages := p.convertMessages(messages, cfg.SystemBlock)
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: chatMessages,
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if len(providerTools) > 0 {
		req.Tools = p.convertTools(providerTools)
	}

	var resp openai.ChatCompletionResponse
	err := p.retry.Do(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, llm.NewProviderError(p.variant, model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError(p.variant, model, errors.New("empty choices in response"))
	}

	return p.toResponse(resp, model), nil
}

func (p *OpenAICompatibleProvider) convertMessages(messages []llm.Message, systemBlock string) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if systemBlock != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemBlock})
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

func (p *OpenAICompatibleProvider) convertTools(toolList []tools.Tool) []openai.Tool {
	specs := tools.AsOpenAIDialect(toolList)
	out := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Function.Name,
				Description: spec.Function.Description,
				Parameters:  spec.Function.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAICompatibleProvider) toResponse(resp openai.ChatCompletionResponse, model string) *llm.Response {
	choice := resp.Choices[0]
	out := &llm.Response{
		Content: choice.Message.Content,
		Model:   model,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
