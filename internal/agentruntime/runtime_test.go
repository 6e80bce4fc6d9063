package agentruntime

import (
	"context"
	"strings"
	"testing"

	"github.com/tenexhq/orchestrator/pkg/models"
)

type fakeStore struct {
	saved *models.Conversation
}

func (f *fakeStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	if f.saved != nil && f.saved.ID == conversationID {
		return f.saved, nil
	}
	return nil, nil
}

func (f *fakeStore) Save(ctx context.Context, conv *models.Conversation) error {
	f.saved = conv
	return nil
}

func TestRuntime_SystemPromptIncludesRoleAndRoster(t *testing.T) {
	agent := models.AgentDefinition{Name: "planner", Role: "planning", Description: "plans tasks", Instructions: "Always ask clarifying questions first."}
	other := models.AgentDefinition{Name: "coder", Description: "writes code"}

	r := New(agent, &fakeStore{}, nil, nil, ProjectMetadata{
		ProjectName:     "widget-factory",
		AvailableAgents: []models.AgentDefinition{agent, other},
	})

	prompt := r.SystemPrompt(false)
	for _, want := range []string{"planner", "planning", "Always ask clarifying questions first.", "widget-factory", "coder: writes code"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "planner: plans tasks") {
		t.Fatalf("roster should exclude the agent itself:\n%s", prompt)
	}
	if strings.Contains(prompt, "terse") {
		t.Fatalf("non-agent prompt should not carry the agent-to-agent sub-block:\n%s", prompt)
	}
}

func TestRuntime_SystemPromptAddsTerseBlockForAgentCallers(t *testing.T) {
	r := New(models.AgentDefinition{Name: "planner"}, &fakeStore{}, nil, nil, ProjectMetadata{})

	if strings.Contains(r.SystemPrompt(false), "terse") {
		t.Fatalf("expected no terse block when isFromAgent=false")
	}
	if !strings.Contains(r.SystemPrompt(true), "terse") {
		t.Fatalf("expected a terse-response sub-block when isFromAgent=true")
	}
}

func TestRuntime_GetOrCreateConversation(t *testing.T) {
	store := &fakeStore{}
	r := New(models.AgentDefinition{Name: "planner"}, store, nil, nil, ProjectMetadata{})

	conv, err := r.GetOrCreateConversationWithContext(context.Background(), "conv-1", false)
	if err != nil {
		t.Fatalf("GetOrCreateConversationWithContext: %v", err)
	}
	if conv.ID != "conv-1" {
		t.Fatalf("ID=%q, want conv-1", conv.ID)
	}
	if !conv.HasSystemMessage() {
		t.Fatalf("expected a seeded system message, got %+v", conv.Messages)
	}

	if err := r.AddUserMessage(context.Background(), conv, "hello", "evt-1"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if store.saved == nil || len(store.saved.Messages) != 2 {
		t.Fatalf("expected the store to persist system+user messages, got %+v", store.saved)
	}
}

func TestRuntime_TransitionPhase(t *testing.T) {
	store := &fakeStore{}
	r := New(models.AgentDefinition{Name: "planner"}, store, nil, nil, ProjectMetadata{})
	conv := models.NewConversation("conv-3")

	if err := r.TransitionPhase(context.Background(), conv, models.PhasePlan); err != nil {
		t.Fatalf("TransitionPhase: %v", err)
	}
	if conv.Phase != models.PhasePlan {
		t.Fatalf("Phase=%q, want %q", conv.Phase, models.PhasePlan)
	}
	if len(conv.PhaseHistory) != 1 || conv.PhaseHistory[0].From != models.PhaseChat || conv.PhaseHistory[0].To != models.PhasePlan {
		t.Fatalf("unexpected phase history: %+v", conv.PhaseHistory)
	}
	if store.saved != conv {
		t.Fatalf("expected the transition to be persisted")
	}

	store.saved = nil
	if err := r.TransitionPhase(context.Background(), conv, models.PhasePlan); err != nil {
		t.Fatalf("TransitionPhase (no-op): %v", err)
	}
	if store.saved != nil {
		t.Fatalf("expected no save when the phase is unchanged")
	}
}

func TestRuntime_GetOrCreateConversationReloadsExisting(t *testing.T) {
	existing := models.NewConversation("conv-2")
	if err := existing.AppendMessage(models.Message{Role: models.RoleSystem, Content: "seeded"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	store := &fakeStore{saved: existing}
	r := New(models.AgentDefinition{Name: "planner"}, store, nil, nil, ProjectMetadata{})

	conv, err := r.GetOrCreateConversationWithContext(context.Background(), "conv-2", false)
	if err != nil {
		t.Fatalf("GetOrCreateConversationWithContext: %v", err)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected the existing conversation to be reused as-is, got %+v", conv.Messages)
	}
}
