package analyser

import (
	"context"
	"errors"
	"testing"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/pkg/models"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(ctx context.Context, messages []llm.Message, cfg llm.Config, providerTools []tools.Tool) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func candidates() []models.AgentDefinition {
	return []models.AgentDefinition{
		{Name: "planner", Description: "plans work"},
		{Name: "coder", Description: "writes code"},
		{Name: "reviewer", Description: "reviews changes"},
	}
}

func TestAnalyser_FormsTeamFromWellFormedResponse(t *testing.T) {
	provider := &fakeProvider{content: `{
		"request_type": "feature",
		"required_capabilities": ["coding"],
		"estimated_complexity": 3,
		"suggested_strategy": "hierarchical",
		"reasoning": "needs a plan and code",
		"lead": "planner",
		"members": ["planner", "coder"],
		"task": {"description": "build the widget", "success_criteria": ["it builds"], "requires_green_light": false, "reviewers": []}
	}`}

	a := New(provider, llm.Config{}, 0, nil, idCounter())
	team, err := a.Analyse(context.Background(), "conv-1", "build a widget", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if team.Lead != "planner" || !team.HasMember("coder") {
		t.Fatalf("unexpected team: %+v", team)
	}
	if team.Strategy != models.StrategyHierarchical {
		t.Fatalf("Strategy=%s, want hierarchical", team.Strategy)
	}
}

func TestAnalyser_UnknownStrategyDefaultsToHierarchical(t *testing.T) {
	provider := &fakeProvider{content: `{"lead":"planner","members":["planner"],"suggested_strategy":"something-weird","task":{}}`}
	a := New(provider, llm.Config{}, 0, nil, idCounter())

	team, err := a.Analyse(context.Background(), "conv-1", "do a thing", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if team.Strategy != models.StrategyHierarchical {
		t.Fatalf("Strategy=%s, want hierarchical fallback", team.Strategy)
	}
}

func TestAnalyser_RequiresGreenLightUpgradesSingleToHierarchical(t *testing.T) {
	provider := &fakeProvider{content: `{"lead":"planner","members":["planner"],"suggested_strategy":"single","task":{"requires_green_light":true}}`}
	a := New(provider, llm.Config{}, 0, nil, idCounter())

	team, err := a.Analyse(context.Background(), "conv-1", "do a risky thing", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if team.Strategy != models.StrategyHierarchical {
		t.Fatalf("Strategy=%s, want hierarchical upgrade", team.Strategy)
	}
}

func TestAnalyser_LeadMustBeMember(t *testing.T) {
	provider := &fakeProvider{content: `{"lead":"planner","members":["coder"],"task":{}}`}
	a := New(provider, llm.Config{}, 0, nil, idCounter())

	team, err := a.Analyse(context.Background(), "conv-1", "do a thing", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if !team.HasMember(team.Lead) {
		t.Fatalf("lead %q is not a member of %v", team.Lead, team.Members)
	}
}

func TestAnalyser_InvalidAgentNamesAreDropped(t *testing.T) {
	provider := &fakeProvider{content: `{"lead":"ghost","members":["ghost","coder"],"task":{}}`}
	a := New(provider, llm.Config{}, 0, nil, idCounter())

	team, err := a.Analyse(context.Background(), "conv-1", "do a thing", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if team.HasMember("ghost") {
		t.Fatalf("unknown agent %q should have been dropped: %+v", "ghost", team)
	}
}

func TestAnalyser_PlanningFailureFallsBackToSingleAgent(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider unavailable")}
	a := New(provider, llm.Config{}, 0, nil, idCounter())

	team, err := a.Analyse(context.Background(), "conv-1", "do a thing", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if team.Strategy != models.StrategySingle || len(team.Members) != 1 {
		t.Fatalf("expected a deterministic single-agent fallback, got %+v", team)
	}
}

func TestAnalyser_MalformedJSONFallsBack(t *testing.T) {
	provider := &fakeProvider{content: "not json at all, sorry"}
	a := New(provider, llm.Config{}, 0, nil, idCounter())

	team, err := a.Analyse(context.Background(), "conv-1", "do a thing", candidates())
	if err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	if team.Strategy != models.StrategySingle {
		t.Fatalf("expected fallback strategy, got %s", team.Strategy)
	}
}

func idCounter() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + string(rune('a'+n))
	}
}
