// Package models contains the shared domain types exchanged between the
// Orchestration Core's components: pub/sub events, conversations, teams,
// and tool plumbing. It has no dependencies on any single component so that
// C1 through C9 can all import it without cycles.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Tag is a single Event tag: first element is the key, the rest are values.
// Conventional keys are "e" (reply-to), "a" (addressable target), "p"
// (pubkey mention), "root", "title", "summary", "d", "published_at".
type Tag []string

// Key returns the tag's key (element 0), or "" if the tag is empty.
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value (element 1), or "" if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered collection of Tag.
type Tags []Tag

// First returns the first tag matching key, or nil.
func (t Tags) First(key string) Tag {
	for _, tag := range t {
		if tag.Key() == key {
			return tag
		}
	}
	return nil
}

// All returns every tag matching key, in order.
func (t Tags) All(key string) []Tag {
	var out []Tag
	for _, tag := range t {
		if tag.Key() == key {
			out = append(out, tag)
		}
	}
	return out
}

// Kind enumerates the event kinds published and consumed by the
// Orchestration Core.
type Kind int

const (
	KindChatMessage     Kind = 1
	KindProjectRecord   Kind = 24000
	KindAgentConfig     Kind = 24001
	KindTask            Kind = 24002
	KindProjectStatus   Kind = 24010
	KindConversation    Kind = 24011
	KindTypingStart     Kind = 24111
	KindTypingStop      Kind = 24112
	KindShellStream     Kind = 24200
	KindLongFormArticle Kind = 30023
	KindLessonLearned   Kind = 4124
	KindAgentDefinition Kind = 4199
)

// Event is the opaque inbound/outbound message on the pub/sub network.
// Its id is deterministic over content.
type Event struct {
	ID        string    `json:"id"`
	AuthorKey string    `json:"author_key"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Tags      Tags      `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Sig       string    `json:"sig,omitempty"`
}

// ComputeID derives the deterministic content id for an event, independent
// of Sig. Two events with identical AuthorKey/Content/Kind/Tags/CreatedAt
// (truncated to the second) always compute the same id.
func (e *Event) ComputeID() string {
	payload := struct {
		AuthorKey string    `json:"author_key"`
		Content   string    `json:"content"`
		Kind      Kind      `json:"kind"`
		Tags      Tags      `json:"tags"`
		CreatedAt int64     `json:"created_at"`
	}{
		AuthorKey: e.AuthorKey,
		Content:   e.Content,
		Kind:      e.Kind,
		Tags:      e.Tags,
		CreatedAt: e.CreatedAt.Unix(),
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ReplyTo returns the "e" tag value, if present.
func (e *Event) ReplyTo() string { return e.Tags.First("e").Value() }

// Root returns the "root" tag value, if present.
func (e *Event) Root() string { return e.Tags.First("root").Value() }

// Mentions returns every "p"-tagged pubkey.
func (e *Event) Mentions() []string {
	tags := e.Tags.All("p")
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if v := t.Value(); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// AddressableTarget parses an "a" tag value of the form kind:pubkey:dtag.
func (e *Event) AddressableTarget() (kind, pubkey, dtag string, ok bool) {
	v := e.Tags.First("a").Value()
	if v == "" {
		return "", "", "", false
	}
	parts := splitAddr(v)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func splitAddr(v string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(v); i++ {
		if v[i] == ':' {
			parts = append(parts, v[start:i])
			start = i + 1
		}
	}
	parts = append(parts, v[start:])
	return parts
}

// SortByCreatedAt sorts events in monotonic createdAt order, per C1's
// ordering guarantee.
func SortByCreatedAt(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}
