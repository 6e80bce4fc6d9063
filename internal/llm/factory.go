package llm

import (
	"fmt"
	"sync"
	"time"

	"github.com/tenexhq/orchestrator/internal/llm/providers"
)

// ProfileConfig names a provider variant and its connection parameters. It is
// the persisted shape an LLM profile resolves to.
type ProfileConfig struct {
	Variant      string // anthropic | anthropic-with-cache | openai-compatible | openrouter | ollama
	APIKey       string
	BaseURL      string
	DefaultModel string
	EnableCache  bool
	MaxRetries   int
	RetryDelay   time.Duration
}

func (c ProfileConfig) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s|%t|%s", c.Variant, c.DefaultModel, c.BaseURL, c.EnableCache, c.APIKey)
}

// Factory builds and caches Provider instances so that repeated calls with
// an identical ProfileConfig reuse one underlying client rather than
// reconnecting per request.
type Factory struct {
	mu    sync.Mutex
	cache map[string]Provider
}

// NewFactory returns an empty provider factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[string]Provider)}
}

// Get returns the cached Provider for cfg, constructing and caching a new
// one on first use.
func (f *Factory) Get(cfg ProfileConfig) (Provider, error) {
	key := cfg.cacheKey()

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[key]; ok {
		return p, nil
	}

	p, err := build(cfg)
	if err != nil {
		return nil, err
	}
	f.cache[key] = p
	return p, nil
}

func build(cfg ProfileConfig) (Provider, error) {
	switch cfg.Variant {
	case "anthropic", "anthropic-with-cache":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			EnableCache:  cfg.Variant == "anthropic-with-cache" || cfg.EnableCache,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			DefaultModel: cfg.DefaultModel,
		})
	case "openai-compatible", "openrouter", "ollama", "":
		variant := cfg.Variant
		if variant == "" {
			variant = "openai-compatible"
		}
		return providers.NewOpenAICompatibleProvider(providers.OpenAICompatibleConfig{
			Variant:      variant,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("llm: unknown provider variant %q", cfg.Variant)
	}
}
