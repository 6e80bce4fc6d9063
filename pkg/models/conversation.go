package models

import (
	"fmt"
	"time"
)

// Phase is the conversation's current lifecycle phase.
type Phase string

const (
	PhaseChat    Phase = "chat"
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
	PhaseReview  Phase = "review"
	PhaseChores  Phase = "chores"
)

// Role identifies the author type of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Usage records LLM token accounting for a single call, accumulated across
// the Tool-Enabled LLM Wrapper's turns.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CacheCreateTokens int    `json:"cache_create_tokens,omitempty"`
	CacheReadTokens   int    `json:"cache_read_tokens,omitempty"`
	Cost              float64 `json:"cost,omitempty"`
}

// Add accumulates u2 into u: prompt/completion/total/cost are summed, cache
// token fields take the max across turns.
func (u Usage) Add(u2 Usage) Usage {
	return Usage{
		PromptTokens:      u.PromptTokens + u2.PromptTokens,
		CompletionTokens:  u.CompletionTokens + u2.CompletionTokens,
		TotalTokens:       u.TotalTokens + u2.TotalTokens,
		CacheCreateTokens: maxInt(u.CacheCreateTokens, u2.CacheCreateTokens),
		CacheReadTokens:   maxInt(u.CacheReadTokens, u2.CacheReadTokens),
		Cost:              u.Cost + u2.Cost,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Message is a single turn in a Conversation.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id,omitempty"`
	AgentName  string    `json:"agent_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
}

// Conversation is the ordered, multi-turn message history keyed by a
// protocol thread id.
type Conversation struct {
	ID              string         `json:"id"`
	Title           string         `json:"title,omitempty"`
	Phase           Phase          `json:"phase"`
	Messages        []Message      `json:"messages"`
	Participants    map[string]bool `json:"participants,omitempty"`
	CurrentAgent    string         `json:"current_agent,omitempty"`
	PhaseStartedAt  time.Time      `json:"phase_started_at,omitempty"`
	PhaseHistory    []PhaseTransition `json:"phase_history,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ProcessedEvents map[string]time.Time `json:"processed_events,omitempty"`
}

// PhaseTransition records a single phase change, inserted atomically with
// Conversation.PhaseStartedAt.
type PhaseTransition struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	At        time.Time `json:"at"`
}

// NewConversation builds an empty conversation with the system message
// invariant not yet satisfied; callers (C6) must append the system message
// before any other operation.
func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:           id,
		Phase:        PhaseChat,
		Participants: make(map[string]bool),
		Metadata:     make(map[string]any),
	}
}

// AppendMessage appends msg, updating Participants and, for a tool message,
// validating that it references a prior assistant tool call id. Returns an
// error if the invariant is violated.
func (c *Conversation) AppendMessage(msg Message) error {
	if msg.Role == RoleTool {
		if !c.hasToolCallID(msg.ToolCallID) {
			return fmt.Errorf("tool message references unknown tool_call_id %q", msg.ToolCallID)
		}
	}
	c.Messages = append(c.Messages, msg)
	if msg.AgentName != "" {
		if c.Participants == nil {
			c.Participants = make(map[string]bool)
		}
		c.Participants[msg.AgentName] = true
	}
	return nil
}

func (c *Conversation) hasToolCallID(id string) bool {
	if id == "" {
		return false
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		for _, tc := range c.Messages[i].ToolCalls {
			if tc.ID == id {
				return true
			}
		}
	}
	return false
}

// TransitionPhase atomically updates Phase, PhaseStartedAt, and records a
// PhaseTransition.
func (c *Conversation) TransitionPhase(to Phase, at time.Time) {
	c.PhaseHistory = append(c.PhaseHistory, PhaseTransition{From: c.Phase, To: to, At: at})
	c.Phase = to
	c.PhaseStartedAt = at
}

// HasSystemMessage reports whether the first message is role=system, the
// invariant GenerateResponse depends on.
func (c *Conversation) HasSystemMessage() bool {
	return len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem
}

// LastUserMessageEventID returns the EventID of the last user message, for
// the Coordinator's non-duplication rule.
func (c *Conversation) LastUserMessageEventID() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].EventID
		}
	}
	return ""
}
