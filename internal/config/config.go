// Package config loads the orchestrator's YAML configuration file: LLM
// profiles, agent definitions, team-formation defaults, relay endpoints,
// and the conversation store path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// LLMProfileConfig is the YAML shape an LLM profile is declared in, one
// step removed from llm.ProfileConfig so the API key can reference an
// environment variable instead of being embedded in the file.
type LLMProfileConfig struct {
	Variant      string        `yaml:"variant"`
	APIKeyEnv    string        `yaml:"api_key_env"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	EnableCache  bool          `yaml:"enable_cache"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// Resolve turns a declared profile into an llm.ProfileConfig, reading the
// API key from APIKeyEnv.
func (p LLMProfileConfig) Resolve() llm.ProfileConfig {
	return llm.ProfileConfig{
		Variant:      p.Variant,
		APIKey:       os.Getenv(p.APIKeyEnv),
		BaseURL:      p.BaseURL,
		DefaultModel: p.DefaultModel,
		EnableCache:  p.EnableCache,
		MaxRetries:   p.MaxRetries,
		RetryDelay:   p.RetryDelay,
	}
}

// TeamConfig holds team-formation defaults. MaxTeamSize bounds the teams the
// Analyser forms, and DefaultLLMProfile is the profile ProfileFor falls back
// to. DefaultAgent is only checked to name a configured agent; the Analyser's
// planning-failure fallback does not read it and uses the first candidate
// agent instead.
type TeamConfig struct {
	MaxTeamSize       int    `yaml:"max_team_size"`
	DefaultAgent      string `yaml:"default_agent"`
	DefaultLLMProfile string `yaml:"default_llm_profile"`
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	Path            string        `yaml:"path"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	CleanupAge      time.Duration `yaml:"cleanup_age"`
}

// BusConfig configures the EventBus's relay pool and bot identity.
type BusConfig struct {
	PrivateKeyEnv string   `yaml:"private_key_env"`
	Relays        []string `yaml:"relays"`
}

// Config is the orchestrator's top-level configuration.
type Config struct {
	ProjectAddress string                      `yaml:"project_address"`
	Bus            BusConfig                   `yaml:"bus"`
	Store          StoreConfig                 `yaml:"store"`
	Team           TeamConfig                  `yaml:"team"`
	LLMProfiles    map[string]LLMProfileConfig `yaml:"llm_profiles"`
	Agents         []models.AgentDefinition    `yaml:"agents"`
}

// defaults applied when the file leaves a field unset.
const (
	DefaultMaxTeamSize     = 5
	DefaultCleanupInterval = 24 * time.Hour
)

// Load reads and parses the YAML configuration file at path, expanding
// ${VAR}/$VAR references against the process environment before parsing so
// secrets never need to live in the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.Team.MaxTeamSize <= 0 {
		c.Team.MaxTeamSize = DefaultMaxTeamSize
	}
	if c.Store.CleanupInterval <= 0 {
		c.Store.CleanupInterval = DefaultCleanupInterval
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent at index %d has no name", i)
		}
		if a.SigningKey == "" {
			return fmt.Errorf("agent %q has no signing_key", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
		if a.LLMProfileID != "" {
			if _, ok := c.LLMProfiles[a.LLMProfileID]; !ok {
				return fmt.Errorf("agent %q references unknown llm profile %q", a.Name, a.LLMProfileID)
			}
		}
	}

	if c.Team.DefaultAgent != "" && !seen[c.Team.DefaultAgent] {
		return fmt.Errorf("team.default_agent %q is not a configured agent", c.Team.DefaultAgent)
	}
	return nil
}

// ProfileFor resolves the LLM profile assigned to agent, falling back to
// Team.DefaultLLMProfile when the agent does not name one.
func (c *Config) ProfileFor(agent models.AgentDefinition) (llm.ProfileConfig, error) {
	id := agent.LLMProfileID
	if id == "" {
		id = c.Team.DefaultLLMProfile
	}
	profile, ok := c.LLMProfiles[id]
	if !ok {
		return llm.ProfileConfig{}, fmt.Errorf("config: no llm profile %q for agent %q", id, agent.Name)
	}
	return profile.Resolve(), nil
}
