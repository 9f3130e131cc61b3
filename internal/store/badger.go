// Package store provides storage backends for LeadPipe.
//
// This file implements a Badger-backed key-value store for the dedup tables
// and the message archive.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Key prefixes. Composite keys separate their parts with a NUL byte.
const (
	badgerSeenPrefix       = "seen/"
	badgerFingerprintPfx   = "fp/"
	badgerArchivePrefix    = "arc/"
	badgerArchiveIdxPrefix = "arcidx/"
	badgerChatPrefix       = "chat/"
)

// Compile-time check that BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)

// BadgerStore keeps every table in a single Badger keyspace.
type BadgerStore struct {
	db *badger.DB
}

type badgerFingerprint struct {
	OriginRef   string `json:"origin_ref"`
	ForwardedAt int64  `json:"forwarded_at"`
}

type badgerArchived struct {
	Timestamp int64  `json:"ts"`
	ChatName  string `json:"chat_name,omitempty"`
	Body      string `json:"body"`
	Payload   []byte `json:"payload,omitempty"`
}

// NewBadgerStore opens (or creates) a Badger database in the configured directory.
func NewBadgerStore(opts ...Option) (*BadgerStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewBadgerStore invoked", "dir", cfg.DSN)
	if cfg.DSN == "" {
		slog.Error("BadgerStore directory not set")
		return nil, fmt.Errorf("badger directory not set")
	}
	if err := os.MkdirAll(cfg.DSN, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create badger directory", "error", err, "dir", cfg.DSN)
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.DSN).WithLogger(nil))
	if err != nil {
		slog.Error("Failed to open badger database", "error", err, "dir", cfg.DSN)
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	slog.Debug("Badger database opened", "dir", cfg.DSN)
	return &BadgerStore{db: db}, nil
}

// Close flushes and closes the Badger database.
func (s *BadgerStore) Close() error {
	slog.Debug("Closing Badger database")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Badger database", "error", err)
	}
	return err
}

func seenKey(chatID, messageID string) []byte {
	return []byte(badgerSeenPrefix + chatID + "\x00" + messageID)
}

func fingerprintKey(hash string) []byte {
	return []byte(badgerFingerprintPfx + hash)
}

func archiveChatPrefix(chatID string) []byte {
	return []byte(badgerArchivePrefix + chatID + "\x00")
}

// archiveKey orders a chat's messages newest first by storing the inverted
// timestamp big-endian.
func archiveKey(chatID string, ts time.Time, messageID string) []byte {
	key := archiveChatPrefix(chatID)
	var inv [8]byte
	binary.BigEndian.PutUint64(inv[:], uint64(math.MaxInt64-ts.Unix()))
	key = append(key, inv[:]...)
	return append(key, messageID...)
}

func archiveIndexKey(chatID, messageID string) []byte {
	return []byte(badgerArchiveIdxPrefix + chatID + "\x00" + messageID)
}

// exists reports whether key is present in the transaction's view.
func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// insertIfAbsent writes key only when it does not exist yet.
func (s *BadgerStore) insertIfAbsent(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, key)
		if err != nil || found {
			return err
		}
		return txn.Set(key, value)
	})
}

func (s *BadgerStore) has(key []byte) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = exists(txn, key)
		return err
	})
	return found, err
}

func (s *BadgerStore) HasSeen(ctx context.Context, chatID, messageID string) (bool, error) {
	found, err := s.has(seenKey(chatID, messageID))
	if err != nil {
		return false, fmt.Errorf("seen check failed: %w", err)
	}
	return found, nil
}

func (s *BadgerStore) MarkSeen(ctx context.Context, chatID, messageID string, ts time.Time) error {
	var val [8]byte
	binary.BigEndian.PutUint64(val[:], uint64(ts.Unix()))
	if err := s.insertIfAbsent(seenKey(chatID, messageID), val[:]); err != nil {
		return fmt.Errorf("mark seen failed: %w", err)
	}
	slog.Debug("BadgerStore.MarkSeen", "chatID", chatID, "messageID", messageID)
	return nil
}

func (s *BadgerStore) HasForwardedFingerprint(ctx context.Context, hash string) (bool, error) {
	found, err := s.has(fingerprintKey(hash))
	if err != nil {
		return false, fmt.Errorf("fingerprint check failed: %w", err)
	}
	return found, nil
}

func (s *BadgerStore) MarkForwardedFingerprint(ctx context.Context, hash, originRef string, ts time.Time) error {
	val, err := json.Marshal(badgerFingerprint{OriginRef: originRef, ForwardedAt: ts.Unix()})
	if err != nil {
		return fmt.Errorf("encode fingerprint failed: %w", err)
	}
	if err := s.insertIfAbsent(fingerprintKey(hash), val); err != nil {
		return fmt.Errorf("mark fingerprint failed: %w", err)
	}
	slog.Debug("BadgerStore.MarkForwardedFingerprint", "originRef", originRef)
	return nil
}

func (s *BadgerStore) ArchiveMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	val, err := json.Marshal(badgerArchived{
		Timestamp: msg.Timestamp.Unix(),
		ChatName:  msg.ChatName,
		Body:      msg.Text,
		Payload:   msg.Payload,
	})
	if err != nil {
		return fmt.Errorf("encode archived message failed: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		idx := archiveIndexKey(msg.ChatID, msg.MessageID)
		found, err := exists(txn, idx)
		if err != nil || found {
			return err
		}
		if err := txn.Set(idx, []byte{}); err != nil {
			return err
		}
		if err := txn.Set([]byte(badgerChatPrefix+msg.ChatID), []byte{}); err != nil {
			return err
		}
		return txn.Set(archiveKey(msg.ChatID, msg.Timestamp, msg.MessageID), val)
	})
	if err != nil {
		return fmt.Errorf("archive message failed: %w", err)
	}
	slog.Debug("BadgerStore.ArchiveMessage", "chatID", msg.ChatID, "messageID", msg.MessageID)
	return nil
}

func (s *BadgerStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	prefix := archiveChatPrefix(chatID)
	var msgs []models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(msgs) >= limit {
				break
			}
			item := it.Item()
			key := item.Key()
			if len(key) < len(prefix)+8 {
				continue
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var a badgerArchived
			if err := json.Unmarshal(raw, &a); err != nil {
				return fmt.Errorf("decode archived message: %w", err)
			}
			msgs = append(msgs, models.Message{
				ChatID:    chatID,
				MessageID: string(key[len(prefix)+8:]),
				Timestamp: time.Unix(a.Timestamp, 0).UTC(),
				ChatName:  a.ChatName,
				Text:      a.Body,
				Payload:   a.Payload,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query recent messages failed: %w", err)
	}
	return msgs, nil
}

func (s *BadgerStore) ArchivedChats(ctx context.Context) ([]string, error) {
	prefix := []byte(badgerChatPrefix)
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query archived chats failed: %w", err)
	}
	return ids, nil
}
