// Package agentruntime manages per-agent conversation state: building an
// agent's system prompt, loading or creating a Conversation for an incoming
// event, appending messages, and driving generation through a signer and a
// Provider.
package agentruntime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/toolloop"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// Signer signs outbound events on an agent's behalf. Kept as a narrow
// interface so eventbus-specific signing (Nostr secp256k1 keys) stays out of
// this package.
type Signer interface {
	Sign(event *models.Event, signingKey string) error
}

// ConversationStore is the subset of the conversation store (C2) the agent
// runtime depends on.
type ConversationStore interface {
	Load(ctx context.Context, conversationID string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
}

// ProjectMetadata carries the ambient, non-conversational facts a system
// prompt should mention: project name/description and the roster of other
// agents the current one can hand off to.
type ProjectMetadata struct {
	ProjectName        string
	ProjectDescription string
	AvailableAgents    []models.AgentDefinition
	Environment        map[string]string
}

// Runtime builds system prompts and drives generation for a single
// AgentDefinition against a ConversationStore.
type Runtime struct {
	store   ConversationStore
	signer  Signer
	wrapper *toolloop.Wrapper
	agent   models.AgentDefinition
	project ProjectMetadata
}

// New builds a Runtime for agent, using wrapper for generation and store for
// conversation persistence.
func New(agent models.AgentDefinition, store ConversationStore, signer Signer, wrapper *toolloop.Wrapper, project ProjectMetadata) *Runtime {
	return &Runtime{store: store, signer: signer, wrapper: wrapper, agent: agent, project: project}
}

// GetOrCreateConversationWithContext loads conversationID, creating a fresh
// Conversation seeded with this agent's system prompt if none exists yet —
// the system message is persisted as the conversation's first message.
// isFromAgent marks the seed as agent-to-agent context rather than a
// top-level user request, so the seeded system prompt carries the
// terse-response sub-block.
func (r *Runtime) GetOrCreateConversationWithContext(ctx context.Context, conversationID string, isFromAgent bool) (*models.Conversation, error) {
	conv, err := r.store.Load(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: load conversation %s: %w", conversationID, err)
	}
	if conv != nil {
		return conv, nil
	}

	conv = models.NewConversation(conversationID)
	if err := r.appendAndSave(ctx, conv, models.Message{
		Role: models.RoleSystem, Content: r.SystemPrompt(isFromAgent), Timestamp: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("agentruntime: seed system message for %s: %w", conversationID, err)
	}
	return conv, nil
}

// TransitionPhase moves conv into to, recording the transition in its phase
// history, and persists the result. A no-op when conv is already in to.
func (r *Runtime) TransitionPhase(ctx context.Context, conv *models.Conversation, to models.Phase) error {
	if conv.Phase == to {
		return nil
	}
	conv.TransitionPhase(to, time.Now())
	if err := r.store.Save(ctx, conv); err != nil {
		return fmt.Errorf("agentruntime: save phase transition for %s: %w", conv.ID, err)
	}
	return nil
}

// AddUserMessage appends a user-authored message and persists the
// conversation.
func (r *Runtime) AddUserMessage(ctx context.Context, conv *models.Conversation, content, eventID string) error {
	return r.appendAndSave(ctx, conv, models.Message{
		Role: models.RoleUser, Content: content, Timestamp: time.Now(), EventID: eventID,
	})
}

// AddAssistantMessage appends this agent's own response and persists the
// conversation.
func (r *Runtime) AddAssistantMessage(ctx context.Context, conv *models.Conversation, content string, usage *models.Usage) error {
	return r.appendAndSave(ctx, conv, models.Message{
		Role: models.RoleAssistant, Content: content, Timestamp: time.Now(),
		AgentName: r.agent.Name, Usage: usage,
	})
}

func (r *Runtime) appendAndSave(ctx context.Context, conv *models.Conversation, msg models.Message) error {
	if err := conv.AppendMessage(msg); err != nil {
		return fmt.Errorf("agentruntime: append message: %w", err)
	}
	return r.store.Save(ctx, conv)
}

// GenerateResponse runs the tool loop over conv's history and returns the
// final assistant text and usage. A conversation missing its leading system
// message is a programming error — it must have gone through
// GetOrCreateConversationWithContext first.
func (r *Runtime) GenerateResponse(ctx context.Context, conv *models.Conversation) (*toolloop.Result, error) {
	if !conv.HasSystemMessage() {
		return nil, fmt.Errorf("agentruntime: conversation %s has no leading system message", conv.ID)
	}

	messages := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		messages = append(messages, llm.Message{
			Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, ToolCalls: m.ToolCalls,
		})
	}

	result, err := r.wrapper.Run(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: generate response for %s: %w", r.agent.Name, err)
	}
	return result, nil
}

// Sign signs event with this agent's own signing key.
func (r *Runtime) Sign(event *models.Event) error {
	return r.signer.Sign(event, r.agent.SigningKey)
}

// SystemPrompt assembles this agent's full system prompt: base orchestrator
// directives, the agent's own role/instructions, project metadata, the
// roster of agents it can collaborate with, and ambient environment facts.
// When isFromAgent is true, an additional sub-block directs the agent
// toward terse, handoff-oriented responses rather than user-facing prose.
func (r *Runtime) SystemPrompt(isFromAgent bool) string {
	var b strings.Builder

	b.WriteString(baseDirectives)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "You are %s.\n", r.agent.Name)
	if r.agent.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", r.agent.Role)
	}
	if r.agent.Description != "" {
		fmt.Fprintf(&b, "%s\n", r.agent.Description)
	}
	if r.agent.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(r.agent.Instructions)
		b.WriteString("\n")
	}

	if r.project.ProjectName != "" {
		fmt.Fprintf(&b, "\nProject: %s\n", r.project.ProjectName)
		if r.project.ProjectDescription != "" {
			b.WriteString(r.project.ProjectDescription)
			b.WriteString("\n")
		}
	}

	if len(r.project.AvailableAgents) > 0 {
		b.WriteString("\nOther agents you can work with in this conversation:\n")
		for _, a := range r.project.AvailableAgents {
			if a.Name == r.agent.Name {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", a.Name, a.Description)
		}
	}

	if len(r.project.Environment) > 0 {
		b.WriteString("\nEnvironment:\n")
		for k, v := range r.project.Environment {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	b.WriteString("\nWhen collaborating with another agent, address it directly in your response; the orchestration layer routes agent-to-agent messages over the event bus.\n")

	if isFromAgent {
		b.WriteString(agentToAgentBlock)
	}

	return b.String()
}

// agentToAgentBlock is appended when this conversation's counterpart is
// another agent rather than a human: it asks for terse, decision-bearing
// output instead of user-facing prose.
const agentToAgentBlock = "\nThis conversation is with another agent, not a human user. Keep your response terse: state your finding, decision, or handoff directly, and skip the framing and pleasantries you'd use for a person.\n"

// baseDirectives are the orchestrator-wide instructions prepended to every
// agent's system prompt, regardless of role.
const baseDirectives = `You are participating in a multi-agent conversation coordinated by an orchestration runtime. Respond only for your own role; do not impersonate other agents. When a task is outside your role, say so rather than guessing.`
