package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

type seenKeyPair struct {
	chatID    string
	messageID string
}

// InMemoryStore is a non-durable store for tests and dry runs.
type InMemoryStore struct {
	mu           sync.RWMutex
	seen         map[seenKeyPair]time.Time
	fingerprints map[string]ForwardedFingerprint
	archive      map[string][]models.Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		seen:         make(map[seenKeyPair]time.Time),
		fingerprints: make(map[string]ForwardedFingerprint),
		archive:      make(map[string][]models.Message),
	}
}

func (s *InMemoryStore) HasSeen(ctx context.Context, chatID, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[seenKeyPair{chatID, messageID}]
	return ok, nil
}

func (s *InMemoryStore) MarkSeen(ctx context.Context, chatID, messageID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seenKeyPair{chatID, messageID}
	if _, ok := s.seen[key]; !ok {
		s.seen[key] = ts
	}
	return nil
}

func (s *InMemoryStore) HasForwardedFingerprint(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.fingerprints[hash]
	return ok, nil
}

func (s *InMemoryStore) MarkForwardedFingerprint(ctx context.Context, hash, originRef string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fingerprints[hash]; !ok {
		s.fingerprints[hash] = ForwardedFingerprint{Hash: hash, OriginRef: originRef, ForwardedAt: ts}
	}
	return nil
}

// SeenCount returns the number of seen records (for tests).
func (s *InMemoryStore) SeenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Fingerprints returns a copy of the forwarded fingerprints (for tests).
func (s *InMemoryStore) Fingerprints() []ForwardedFingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ForwardedFingerprint, 0, len(s.fingerprints))
	for _, fp := range s.fingerprints {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

func (s *InMemoryStore) ArchiveMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.archive[msg.ChatID] {
		if m.MessageID == msg.MessageID {
			return nil
		}
	}
	s.archive[msg.ChatID] = append(s.archive[msg.ChatID], msg)
	return nil
}

func (s *InMemoryStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	msgs := append([]models.Message(nil), s.archive[chatID]...)
	s.mu.RUnlock()

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.After(msgs[j].Timestamp) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *InMemoryStore) ArchivedChats(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.archive))
	for id := range s.archive {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
