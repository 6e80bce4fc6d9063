// Package store implements SQLite-backed persistence for conversations and
// the processed-event dedup set, with per-conversation write serialisation.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// DefaultCleanupAge is how long a conversation may go untouched before a
// Cleanup sweep deletes it.
const DefaultCleanupAge = 30 * 24 * time.Hour

// Store persists conversations in a single SQLite database file.
type Store struct {
	db    *sql.DB
	locks conversationLocker
}

// Open opens (creating if necessary) the SQLite database at path and
// prepares its schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serialises writes; avoid lock contention.

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id TEXT PRIMARY KEY,
			processed_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load retrieves the conversation with the given id, or nil if it does not
// exist. Readers observe the last committed state without blocking on
// concurrent writers.
func (s *Store) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return s.queryConversation(ctx, conversationID)
}

// Save persists conv in full, serialised per conversation id so concurrent
// writers to distinct conversations never block each other.
func (s *Store) Save(ctx context.Context, conv *models.Conversation) error {
	unlock := s.locks.lock(conv.ID)
	defer unlock()
	return s.persistConversation(ctx, conv)
}

// AppendMessage loads conv, appends msg under the conversation's lock, and
// saves the result as one atomic read-modify-write.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg models.Message) error {
	unlock := s.locks.lock(conversationID)
	defer unlock()

	conv, err := s.queryConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		conv = models.NewConversation(conversationID)
	}
	if err := conv.AppendMessage(msg); err != nil {
		return fmt.Errorf("store: append message to %q: %w", conversationID, err)
	}
	return s.persistConversation(ctx, conv)
}

// queryConversation and persistConversation do the raw DB work with no
// locking of their own; every call site above holds (or doesn't need) the
// conversation lock itself, avoiding a recursive-lock deadlock.
func (s *Store) queryConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM conversations WHERE id = ?`, conversationID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %q: %w", conversationID, err)
	}
	var conv models.Conversation
	if err := json.Unmarshal([]byte(body), &conv); err != nil {
		return nil, fmt.Errorf("store: load %q: decode: %w", conversationID, err)
	}
	return &conv, nil
}

func (s *Store) persistConversation(ctx context.Context, conv *models.Conversation) error {
	body, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("store: save %q: encode: %w", conv.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, conv.ID, string(body), time.Now())
	if err != nil {
		return fmt.Errorf("store: save %q: %w", conv.ID, err)
	}
	return nil
}

// IsProcessed reports whether eventID has already been marked processed.
func (s *Store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE event_id = ?`, eventID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: is processed %q: %w", eventID, err)
	}
	return true, nil
}

// MarkProcessed records eventID as processed at ts. Idempotent: marking an
// already-processed id twice is a no-op.
func (s *Store) MarkProcessed(ctx context.Context, eventID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, ts)
	if err != nil {
		return fmt.Errorf("store: mark processed %q: %w", eventID, err)
	}
	return nil
}

// Cleanup deletes conversations whose last write is older than olderThan.
// Intended to run once at startup and then on a recurring schedule.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: rows affected: %w", err)
	}
	return n, nil
}

// conversationLocker hands out a per-conversation-id mutex from a sync.Map,
// returning a plain unlock closure instead of a polling Lock/Unlock pair,
// since the calling goroutine already blocks on db I/O inside the critical
// section.
type conversationLocker struct {
	mu sync.Map // map[string]*sync.Mutex
}

func (l *conversationLocker) lock(id string) func() {
	actual, _ := l.mu.LoadOrStore(id, &sync.Mutex{})
	m := actual.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
