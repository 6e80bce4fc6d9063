package llm

import "testing"

func TestFactory_CachesByProfile(t *testing.T) {
	f := NewFactory()
	cfg := ProfileConfig{Variant: "openai-compatible", APIKey: "sk-test", DefaultModel: "gpt-4o"}

	p1, err := f.Get(cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p2, err := f.Get(cfg)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected identical cached provider instance for same config")
	}

	other := cfg
	other.DefaultModel = "gpt-4-turbo"
	p3, err := f.Get(other)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p3 == p1 {
		t.Fatalf("expected distinct provider instance for a different model")
	}
}

func TestFactory_UnknownVariant(t *testing.T) {
	f := NewFactory()
	if _, err := f.Get(ProfileConfig{Variant: "not-a-real-provider"}); err == nil {
		t.Fatal("expected an error for an unknown provider variant")
	}
}

func TestFactory_AnthropicRequiresAPIKey(t *testing.T) {
	f := NewFactory()
	if _, err := f.Get(ProfileConfig{Variant: "anthropic"}); err == nil {
		t.Fatal("expected an error when APIKey is empty")
	}
}
