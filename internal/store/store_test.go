package store

import (
	"context"
	"testing"
	"time"

	"github.com/tenexhq/orchestrator/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if conv != nil {
		t.Fatalf("expected nil for a missing conversation, got %+v", conv)
	}
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := models.NewConversation("conv-1")
	if err := conv.AppendMessage(models.Message{Role: models.RoleSystem, Content: "you are an agent"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || len(loaded.Messages) != 1 || loaded.Messages[0].Content != "you are an agent" {
		t.Fatalf("unexpected round trip: %+v", loaded)
	}
}

func TestStore_AppendMessageCreatesConversationOnMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "conv-2", models.Message{Role: models.RoleSystem, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, "conv-2", models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	loaded, err := s.Load(ctx, "conv-2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded.Messages))
	}
}

func TestStore_ProcessedEventsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	processed, err := s.IsProcessed(ctx, "evt-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if processed {
		t.Fatal("expected evt-1 to not be processed yet")
	}

	if err := s.MarkProcessed(ctx, "evt-1", time.Now()); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if err := s.MarkProcessed(ctx, "evt-1", time.Now()); err != nil {
		t.Fatalf("MarkProcessed (second call): %v", err)
	}

	processed, err = s.IsProcessed(ctx, "evt-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !processed {
		t.Fatal("expected evt-1 to be processed")
	}
}

func TestStore_CleanupDeletesStaleConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, models.NewConversation("stale")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Force the row's updated_at into the past directly, since Save always
	// stamps "now".
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-40*24*time.Hour), "stale"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if err := s.Save(ctx, models.NewConversation("fresh")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	n, err := s.Cleanup(ctx, DefaultCleanupAge)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}

	stale, err := s.Load(ctx, "stale")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stale != nil {
		t.Fatal("expected the stale conversation to be gone")
	}

	fresh, err := s.Load(ctx, "fresh")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fresh == nil {
		t.Fatal("expected the fresh conversation to remain")
	}
}

func TestExtractConversationID(t *testing.T) {
	cases := []struct {
		name  string
		event *models.Event
		want  string
	}{
		{"prefers e tag", &models.Event{ID: "self", Tags: models.Tags{{"e", "parent"}, {"root", "root-id"}}}, "parent"},
		{"falls back to root tag", &models.Event{ID: "self", Tags: models.Tags{{"root", "root-id"}}}, "root-id"},
		{"falls back to event id", &models.Event{ID: "self"}, "self"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractConversationID(tc.event); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
