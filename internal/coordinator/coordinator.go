// Package coordinator implements the orchestration front door: it receives
// an inbound event, dedupes it, resolves which agents should respond, runs
// the Analyser and Strategy Engine, and publishes the results.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tenexhq/orchestrator/internal/agentruntime"
	"github.com/tenexhq/orchestrator/internal/analyser"
	"github.com/tenexhq/orchestrator/internal/eventbus"
	"github.com/tenexhq/orchestrator/internal/store"
	"github.com/tenexhq/orchestrator/internal/strategy"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// ProcessedEventStore is the subset of C2 the coordinator needs for
// deduplication.
type ProcessedEventStore interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, ts time.Time) error
}

// Bus is the subset of C1 the coordinator publishes through.
type Bus interface {
	Sign(event *models.Event, signingKey string) error
	Publish(ctx context.Context, event *models.Event) error
	PublishEphemeral(ctx context.Context, event *models.Event) error
}

// Coordinator wires C1 (Bus), C2 (ProcessedEventStore), C7 (*analyser.Analyser),
// and C8 (strategy.For) together, dispatching one agent Runtime per known
// agent.
type Coordinator struct {
	bus            Bus
	processed      ProcessedEventStore
	analyser       *analyser.Analyser
	runtimes       map[string]*agentruntime.Runtime
	agents         []models.AgentDefinition
	pubkeyToAgent  map[string]string
	projectAddress string
	logger         *slog.Logger
}

// Config configures a Coordinator.
type Config struct {
	Bus            Bus
	Processed      ProcessedEventStore
	Analyser       *analyser.Analyser
	Runtimes       map[string]*agentruntime.Runtime
	Agents         []models.AgentDefinition
	ProjectAddress string
	Logger         *slog.Logger
}

// New builds a Coordinator from cfg, indexing agents by their signing
// key's derived pubkey for the isFromAgent check.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pubkeyToAgent := make(map[string]string, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if pk, err := eventbus.DerivePublicKey(a.SigningKey); err == nil {
			pubkeyToAgent[pk] = a.Name
		}
	}

	return &Coordinator{
		bus:            cfg.Bus,
		processed:      cfg.Processed,
		analyser:       cfg.Analyser,
		runtimes:       cfg.Runtimes,
		agents:         cfg.Agents,
		pubkeyToAgent:  pubkeyToAgent,
		projectAddress: cfg.ProjectAddress,
		logger:         logger.With("component", "coordinator"),
	}
}

// HandleEvent runs the full dispatch pipeline for a single inbound event:
// dedup, responder resolution, planning, strategy execution, and publish.
func (c *Coordinator) HandleEvent(ctx context.Context, event *models.Event) error {
	convID := store.ExtractConversationID(event)

	already, err := c.processed.IsProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("coordinator: check processed %s: %w", event.ID, err)
	}
	if already {
		return nil
	}

	isFromAgent := c.isFromAgent(event.AuthorKey)

	responders := c.resolveResponders(event)

	team, err := c.analyser.Analyse(ctx, convID, event.Content, responders)
	if err != nil {
		return fmt.Errorf("coordinator: analyse %s: %w", event.ID, err)
	}

	leadConv, err := c.seedRequestOnce(ctx, convID, event, team, isFromAgent)
	if err != nil {
		return fmt.Errorf("coordinator: seed conversation %s: %w", convID, err)
	}

	leadRT := c.runtimes[team.Lead]
	if err := leadRT.TransitionPhase(ctx, leadConv, models.PhasePlan); err != nil {
		c.logger.Warn("failed to record plan phase transition", "conversation", convID, "error", err)
	}

	invoker := &runtimeInvoker{coordinator: c, conversationID: convID, originalEventID: event.ID}
	exec, err := strategy.For(team.Strategy, invoker)
	if err != nil {
		return fmt.Errorf("coordinator: build strategy %s: %w", team.Strategy, err)
	}

	result, err := exec.Execute(ctx, team, event.Content)
	if err != nil {
		return fmt.Errorf("coordinator: execute strategy %s: %w", team.Strategy, err)
	}

	if err := leadRT.TransitionPhase(ctx, leadConv, models.PhaseChat); err != nil {
		c.logger.Warn("failed to record chat phase transition", "conversation", convID, "error", err)
	}

	c.publishResponses(ctx, event, team, result)

	if err := c.processed.MarkProcessed(ctx, event.ID, time.Now()); err != nil {
		return fmt.Errorf("coordinator: mark processed %s: %w", event.ID, err)
	}
	return nil
}

// isFromAgent reports whether authorKey belongs to one of the coordinator's
// own known agents.
func (c *Coordinator) isFromAgent(authorKey string) bool {
	_, ok := c.pubkeyToAgent[authorKey]
	return ok
}

// resolveResponders honours explicit p-tags naming known agents; when none
// resolve to a known agent, every known agent is offered to the Analyser
// as a planning candidate.
func (c *Coordinator) resolveResponders(event *models.Event) []models.AgentDefinition {
	tagged := make(map[string]bool)
	for _, tag := range event.Tags.All("p") {
		if name, ok := c.pubkeyToAgent[tag.Value()]; ok {
			tagged[name] = true
		}
	}
	if len(tagged) == 0 {
		return c.agents
	}

	out := make([]models.AgentDefinition, 0, len(tagged))
	for _, a := range c.agents {
		if tagged[a.Name] {
			out = append(out, a)
		}
	}
	return out
}

// seedRequestOnce appends the inbound event's content to the team's
// conversation as a user message, unless it is already the last recorded
// user message by event id — the coordinator's non-duplication rule. It
// returns the lead's conversation so callers can drive further lifecycle
// transitions against the same record.
func (c *Coordinator) seedRequestOnce(ctx context.Context, convID string, event *models.Event, team *models.Team, isFromAgent bool) (*models.Conversation, error) {
	rt, ok := c.runtimes[team.Lead]
	if !ok {
		return nil, fmt.Errorf("no runtime registered for lead agent %q", team.Lead)
	}

	conv, err := rt.GetOrCreateConversationWithContext(ctx, convID, isFromAgent)
	if err != nil {
		return nil, err
	}
	if conv.LastUserMessageEventID() == event.ID {
		return conv, nil
	}

	content := event.Content
	if isFromAgent {
		content = "[from agent] " + content
	}
	if err := rt.AddUserMessage(ctx, conv, content, event.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// publishResponses signs and publishes every non-empty, non-disclaimer-only
// AgentResponse, tagging it back to the original event and the project
// address. Publish failures are logged and otherwise ignored — a failed
// publish never aborts orchestration. A strategy that failed outright gets a
// diagnostic event instead of silence, so a thread never simply goes dark.
func (c *Coordinator) publishResponses(ctx context.Context, original *models.Event, team *models.Team, result *models.StrategyExecutionResult) {
	for _, resp := range result.Responses {
		if !shouldPublish(resp) {
			continue
		}

		agent := c.agentByName(resp.AgentName)
		if agent == nil {
			c.logger.Warn("no agent definition for response, skipping publish", "agent", resp.AgentName)
			continue
		}

		out := &models.Event{
			Content:   resp.Response,
			Kind:      models.KindChatMessage,
			CreatedAt: time.Now(),
			Tags: models.Tags{
				{"e", original.ID},
			},
		}
		if c.projectAddress != "" {
			out.Tags = append(out.Tags, models.Tag{"a", c.projectAddress})
		}

		if err := c.bus.Sign(out, agent.SigningKey); err != nil {
			c.logger.Warn("failed to sign response", "agent", agent.Name, "error", err)
			continue
		}
		if err := c.bus.Publish(ctx, out); err != nil {
			c.logger.Warn("failed to publish response", "agent", agent.Name, "error", err)
		}
	}

	if !result.Success {
		c.publishDiagnostic(ctx, original, team, result)
	}
}

// publishDiagnostic reports a failed strategy run back to the thread as a
// short note signed by the team's lead, rather than letting the run go
// silent. It is itself best-effort: a failure here is logged, not retried.
func (c *Coordinator) publishDiagnostic(ctx context.Context, original *models.Event, team *models.Team, result *models.StrategyExecutionResult) {
	agent := c.agentByName(team.Lead)
	if agent == nil {
		c.logger.Warn("no lead agent definition, dropping diagnostic event", "lead", team.Lead)
		return
	}

	content := "Unable to produce a response for this request."
	if len(result.Errors) > 0 {
		content = fmt.Sprintf("Unable to produce a response for this request: %s", strings.Join(result.Errors, "; "))
	}

	out := &models.Event{
		Content:   content,
		Kind:      models.KindChatMessage,
		CreatedAt: time.Now(),
		Tags: models.Tags{
			{"e", original.ID},
		},
	}
	if c.projectAddress != "" {
		out.Tags = append(out.Tags, models.Tag{"a", c.projectAddress})
	}

	if err := c.bus.Sign(out, agent.SigningKey); err != nil {
		c.logger.Warn("failed to sign diagnostic event", "error", err)
		return
	}
	if err := c.bus.Publish(ctx, out); err != nil {
		c.logger.Warn("failed to publish diagnostic event", "error", err)
	}
}

func (c *Coordinator) agentByName(name string) *models.AgentDefinition {
	for i := range c.agents {
		if c.agents[i].Name == name {
			return &c.agents[i]
		}
	}
	return nil
}

// nothingToAddDisclaimers are case-insensitive substrings that mark a
// response as having nothing worth publishing.
var nothingToAddDisclaimers = []string{
	"nothing to add",
	"no further input needed",
	"i have nothing to add",
}

func shouldPublish(resp models.AgentResponse) bool {
	if resp.RenderInChat != nil {
		return true
	}
	trimmed := strings.TrimSpace(resp.Response)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, disclaimer := range nothingToAddDisclaimers {
		if strings.Contains(lower, disclaimer) {
			return false
		}
	}
	return true
}

// runtimeInvoker adapts the coordinator's per-agent Runtimes to
// strategy.Invoker, scoping every agent's view of the exchange to its own
// conversation record derived from the team's shared conversation id. Every
// call here is by construction agent-to-agent delegation: the top-level
// human request is seeded separately by seedRequestOnce.
type runtimeInvoker struct {
	coordinator     *Coordinator
	conversationID  string
	originalEventID string
}

func (iv *runtimeInvoker) Invoke(ctx context.Context, agentName, input string) (models.AgentResponse, error) {
	rt, ok := iv.coordinator.runtimes[agentName]
	if !ok {
		return models.AgentResponse{}, fmt.Errorf("coordinator: no runtime registered for agent %q", agentName)
	}

	iv.coordinator.startTyping(ctx, agentName, iv.originalEventID)
	defer iv.coordinator.stopTyping(ctx, agentName, iv.originalEventID)

	convID := iv.conversationID + "::" + agentName
	conv, err := rt.GetOrCreateConversationWithContext(ctx, convID, true)
	if err != nil {
		return models.AgentResponse{}, err
	}
	if err := rt.AddUserMessage(ctx, conv, input, ""); err != nil {
		return models.AgentResponse{}, err
	}

	result, err := rt.GenerateResponse(ctx, conv)
	if err != nil {
		return models.AgentResponse{}, err
	}
	if err := rt.AddAssistantMessage(ctx, conv, result.Content, &result.Usage); err != nil {
		return models.AgentResponse{}, err
	}

	return models.AgentResponse{
		AgentName: agentName,
		Response:  result.Content,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"turns": result.Turns},
	}, nil
}

// startTyping and stopTyping publish the ephemeral typing-indicator pair
// bracketing an agent invocation. Both are best-effort: a failed publish is
// logged and otherwise ignored, never aborting the invocation it brackets.
func (c *Coordinator) startTyping(ctx context.Context, agentName, originalEventID string) {
	c.publishTyping(ctx, models.KindTypingStart, agentName, originalEventID)
}

func (c *Coordinator) stopTyping(ctx context.Context, agentName, originalEventID string) {
	c.publishTyping(ctx, models.KindTypingStop, agentName, originalEventID)
}

func (c *Coordinator) publishTyping(ctx context.Context, kind models.Kind, agentName, originalEventID string) {
	agent := c.agentByName(agentName)
	if agent == nil {
		return
	}

	out := &models.Event{
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	if originalEventID != "" {
		out.Tags = models.Tags{{"e", originalEventID}}
	}

	if err := c.bus.Sign(out, agent.SigningKey); err != nil {
		c.logger.Warn("failed to sign typing indicator", "agent", agentName, "error", err)
		return
	}
	if err := c.bus.PublishEphemeral(ctx, out); err != nil {
		c.logger.Warn("failed to publish typing indicator", "agent", agentName, "error", err)
	}
}

// _ ensures runtimeInvoker satisfies strategy.Invoker at compile time.
// Parallel/Hierarchical call Invoke from multiple goroutines concurrently;
// safety here rests on internal/store's per-conversation-id locking, since
// every agent/conversation pair maps to a distinct conversation id.
var _ strategy.Invoker = (*runtimeInvoker)(nil)
