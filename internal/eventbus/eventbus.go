// Package eventbus implements the EventBus adapter: a thin layer over a
// Nostr relay pool providing Subscribe/Publish/Sign, with per-event dedup
// and retrying publishes.
package eventbus

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// DefaultRelays are used when Config.Relays is empty.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

const (
	// publishMaxAttempts, publishBaseDelay, and publishCapDelay implement the
	// publish retry policy: 3 attempts with exponential backoff from a 250ms
	// base, capped at 4s.
	publishMaxAttempts = 3
	publishBaseDelay   = 250 * time.Millisecond
	publishCapDelay    = 4 * time.Second
)

// Config configures an EventBus.
type Config struct {
	// PrivateKey is the bus's own identity (hex or nsec); New validates it and
	// derives the bus's public key from it. Publish does not sign: events are
	// signed beforehand through Sign with a per-agent key.
	PrivateKey string
	Relays     []string
	Logger     *slog.Logger
}

// Filter selects which events Subscribe delivers, mirroring Nostr's own
// filter shape restricted to what the orchestrator needs.
type Filter struct {
	Kinds   []models.Kind
	Authors []string
	Tags    map[string][]string
	Since   *time.Time
}

// EventBus is the Nostr-backed implementation of C1: Subscribe, Publish,
// Sign, and PublishEphemeral.
type EventBus struct {
	privateKey string
	publicKey  string
	relays     []*nostr.Relay
	relayURLs  []string
	logger     *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// New builds an EventBus from cfg without connecting yet; call Connect to
// dial relays.
func New(cfg Config) (*EventBus, error) {
	privateKey, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("eventbus: invalid private key: %w", err)
	}
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("eventbus: derive public key: %w", err)
	}

	relays := cfg.Relays
	if len(relays) == 0 {
		relays = DefaultRelays
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EventBus{
		privateKey: privateKey,
		publicKey:  publicKey,
		relayURLs:  relays,
		logger:     logger.With("component", "eventbus"),
		seen:       make(map[string]time.Time),
	}, nil
}

// Connect dials every configured relay, tolerating individual failures as
// long as at least one relay connects.
func (b *EventBus) Connect(ctx context.Context) error {
	for _, url := range b.relayURLs {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			b.logger.Warn("failed to connect to relay", "relay", url, "error", err)
			continue
		}
		b.relays = append(b.relays, relay)
	}
	if len(b.relays) == 0 {
		return fmt.Errorf("eventbus: failed to connect to any relay")
	}
	return nil
}

// Subscribe opens a relay subscription matching filter and streams
// deduplicated events on the returned channel until ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, filter Filter) (<-chan *models.Event, error) {
	if len(b.relays) == 0 {
		return nil, fmt.Errorf("eventbus: not connected")
	}

	out := make(chan *models.Event, 256)
	nostrFilter := toNostrFilter(filter)

	var wg sync.WaitGroup
	for _, relay := range b.relays {
		relay := relay
		sub, err := relay.Subscribe(ctx, nostr.Filters{nostrFilter})
		if err != nil {
			b.logger.Warn("failed to subscribe", "relay", relay.URL, "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					sub.Unsub()
					return
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					if ev == nil || !b.markSeen(ev.ID) {
						continue
					}
					domainEvent, convErr := fromNostrEvent(ev)
					if convErr != nil {
						b.logger.Warn("failed to convert event", "event_id", ev.ID, "error", convErr)
						continue
					}
					select {
					case out <- domainEvent:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// markSeen returns true the first time id is observed, false on every
// subsequent call — the dedup gate every subscription path shares.
func (b *EventBus) markSeen(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = time.Now()
	return true
}

// DerivePublicKey returns the hex public key for a hex or nsec-encoded
// private key, used by the coordinator to index agents by pubkey without
// depending on an EventBus instance.
func DerivePublicKey(signingKey string) (string, error) {
	key, err := parsePrivateKey(signingKey)
	if err != nil {
		return "", fmt.Errorf("eventbus: derive public key: %w", err)
	}
	pubkey, err := nostr.GetPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("eventbus: derive public key: %w", err)
	}
	return pubkey, nil
}

// Sign signs event using signingKey (hex or nsec) rather than the bus's own
// identity, since each agent carries its own signing key.
func (b *EventBus) Sign(event *models.Event, signingKey string) error {
	key, err := parsePrivateKey(signingKey)
	if err != nil {
		return fmt.Errorf("eventbus: sign: %w", err)
	}
	pubkey, err := nostr.GetPublicKey(key)
	if err != nil {
		return fmt.Errorf("eventbus: sign: derive pubkey: %w", err)
	}
	event.AuthorKey = pubkey

	ne := toNostrEvent(event)
	if err := ne.Sign(key); err != nil {
		return fmt.Errorf("eventbus: sign: %w", err)
	}
	event.ID = ne.ID
	event.Sig = ne.Sig
	return nil
}

// Publish sends event to every connected relay, retrying with exponential
// backoff (publishMaxAttempts attempts, publishBaseDelay base, capped at
// publishCapDelay) and succeeding once any relay accepts it.
func (b *EventBus) Publish(ctx context.Context, event *models.Event) error {
	ne := toNostrEvent(event)
	ne.ID = event.ID
	ne.Sig = event.Sig

	var lastErr error
	for attempt := 1; attempt <= publishMaxAttempts; attempt++ {
		published := false
		for _, relay := range b.relays {
			if err := relay.Publish(ctx, ne); err != nil {
				lastErr = err
				b.logger.Warn("publish failed", "relay", relay.URL, "event_id", ne.ID, "error", err)
				continue
			}
			published = true
		}
		if published {
			return nil
		}

		if attempt == publishMaxAttempts {
			break
		}
		delay := publishBaseDelay * time.Duration(1<<uint(attempt-1))
		if delay > publishCapDelay {
			delay = publishCapDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("eventbus: publish failed after %d attempts: %w", publishMaxAttempts, lastErr)
}

// PublishEphemeral publishes event the same way as Publish; ephemeral kinds
// (20000-29999) are a relay-side storage hint, not a different wire path.
func (b *EventBus) PublishEphemeral(ctx context.Context, event *models.Event) error {
	return b.Publish(ctx, event)
}

// EncryptDM NIP-04-encrypts plaintext for recipientPubkey using signingKey,
// for the agent-to-agent DM side channel.
func (b *EventBus) EncryptDM(signingKey, recipientPubkey, plaintext string) (string, error) {
	key, err := parsePrivateKey(signingKey)
	if err != nil {
		return "", fmt.Errorf("eventbus: encrypt dm: %w", err)
	}
	recipient, err := parsePubkey(recipientPubkey)
	if err != nil {
		return "", fmt.Errorf("eventbus: encrypt dm: %w", err)
	}
	shared, err := nip04.ComputeSharedSecret(recipient, key)
	if err != nil {
		return "", fmt.Errorf("eventbus: encrypt dm: shared secret: %w", err)
	}
	return nip04.Encrypt(plaintext, shared)
}

// DecryptDM NIP-04-decrypts ciphertext received from senderPubkey using
// signingKey.
func (b *EventBus) DecryptDM(signingKey, senderPubkey, ciphertext string) (string, error) {
	key, err := parsePrivateKey(signingKey)
	if err != nil {
		return "", fmt.Errorf("eventbus: decrypt dm: %w", err)
	}
	sender, err := parsePubkey(senderPubkey)
	if err != nil {
		return "", fmt.Errorf("eventbus: decrypt dm: %w", err)
	}
	shared, err := nip04.ComputeSharedSecret(sender, key)
	if err != nil {
		return "", fmt.Errorf("eventbus: decrypt dm: shared secret: %w", err)
	}
	return nip04.Decrypt(ciphertext, shared)
}

// Close disconnects every relay.
func (b *EventBus) Close() {
	for _, relay := range b.relays {
		if err := relay.Close(); err != nil {
			b.logger.Warn("error closing relay", "relay", relay.URL, "error", err)
		}
	}
}

func toNostrFilter(f Filter) nostr.Filter {
	nf := nostr.Filter{Authors: f.Authors}
	for _, k := range f.Kinds {
		nf.Kinds = append(nf.Kinds, int(k))
	}
	if len(f.Tags) > 0 {
		nf.Tags = nostr.TagMap{}
		for k, v := range f.Tags {
			nf.Tags[k] = v
		}
	}
	if f.Since != nil {
		since := nostr.Timestamp(f.Since.Unix())
		nf.Since = &since
	}
	return nf
}

func toNostrEvent(e *models.Event) nostr.Event {
	ne := nostr.Event{
		PubKey:    e.AuthorKey,
		CreatedAt: nostr.Timestamp(e.CreatedAt.Unix()),
		Kind:      int(e.Kind),
		Content:   e.Content,
	}
	for _, tag := range e.Tags {
		ne.Tags = append(ne.Tags, nostr.Tag(tag))
	}
	return ne
}

func fromNostrEvent(ne *nostr.Event) (*models.Event, error) {
	event := &models.Event{
		ID:        ne.ID,
		AuthorKey: ne.PubKey,
		Content:   ne.Content,
		Kind:      models.Kind(ne.Kind),
		CreatedAt: time.Unix(int64(ne.CreatedAt), 0),
		Sig:       ne.Sig,
	}
	for _, tag := range ne.Tags {
		event.Tags = append(event.Tags, models.Tag(tag))
	}
	return event, nil
}

// parsePrivateKey accepts a hex or nsec-encoded secret key.
func parsePrivateKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if strings.HasPrefix(trimmed, "nsec1") {
		prefix, data, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid nsec key: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("invalid key type: expected nsec, got %s", prefix)
		}
		hexKey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("invalid nsec key type: %T", data)
		}
		return hexKey, nil
	}
	if len(trimmed) != 64 {
		return "", fmt.Errorf("private key must be 64 hex characters or nsec format")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex key: %w", err)
	}
	return trimmed, nil
}

// parsePubkey accepts a hex or npub-encoded public key.
func parsePubkey(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "npub1") {
		prefix, data, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid npub key: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("invalid key type: expected npub, got %s", prefix)
		}
		pubkey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("invalid npub key type: %T", data)
		}
		return pubkey, nil
	}
	if len(trimmed) != 64 {
		return "", fmt.Errorf("pubkey must be 64 hex characters or npub format")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex pubkey: %w", err)
	}
	return strings.ToLower(trimmed), nil
}
