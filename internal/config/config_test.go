package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const validConfig = `
project_address: "30023:abc:widget-factory"
bus:
  private_key_env: ORCH_BUS_KEY
  relays: ["wss://relay.example.com"]
store:
  path: /var/lib/orchestrator/store.db
team:
  max_team_size: 3
  default_agent: planner
  default_llm_profile: fast
llm_profiles:
  fast:
    variant: anthropic
    api_key_env: ANTHROPIC_API_KEY
    default_model: claude-3-5-haiku
agents:
  - name: planner
    description: plans work
    signing_key: deadbeef
    llm_profile_id: fast
  - name: coder
    description: writes code
    signing_key: beefdead
`

func TestLoad_ValidConfigParsesAndResolvesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Team.MaxTeamSize != 3 {
		t.Fatalf("MaxTeamSize = %d, want 3", cfg.Team.MaxTeamSize)
	}
	if cfg.Store.CleanupInterval != DefaultCleanupInterval {
		t.Fatalf("CleanupInterval should default when unset, got %v", cfg.Store.CleanupInterval)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(cfg.Agents))
	}
}

func TestLoad_ExpandsEnvVarsBeforeParsing(t *testing.T) {
	t.Setenv("ORCH_RELAY_URL", "wss://env-relay.example.com")
	path := writeConfig(t, `
bus:
  relays: ["${ORCH_RELAY_URL}"]
agents:
  - name: planner
    description: plans
    signing_key: deadbeef
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Bus.Relays) != 1 || cfg.Bus.Relays[0] != "wss://env-relay.example.com" {
		t.Fatalf("relay env expansion failed: %+v", cfg.Bus.Relays)
	}
}

func TestLoad_RejectsMissingAgents(t *testing.T) {
	path := writeConfig(t, `project_address: "x"`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for a config with no agents")
	}
}

func TestLoad_RejectsDuplicateAgentNames(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: planner
    description: a
    signing_key: deadbeef
  - name: planner
    description: b
    signing_key: beefdead
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate agent name") {
		t.Fatalf("expected duplicate-name error, got %v", err)
	}
}

func TestLoad_RejectsUnknownLLMProfileReference(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: planner
    description: a
    signing_key: deadbeef
    llm_profile_id: missing
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown llm profile") {
		t.Fatalf("expected unknown-profile error, got %v", err)
	}
}

func TestProfileFor_FallsBackToTeamDefault(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	coder := cfg.Agents[1]
	profile, err := cfg.ProfileFor(coder)
	if err != nil {
		t.Fatalf("ProfileFor: %v", err)
	}
	if profile.Variant != "anthropic" || profile.APIKey != "sk-test-key" {
		t.Fatalf("unexpected resolved profile: %+v", profile)
	}
}
