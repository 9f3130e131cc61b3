package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) HasSeen(ctx context.Context, chatID, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_messages WHERE chat_id = ? AND message_id = ? LIMIT 1`,
		chatID, messageID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seen check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkSeen(ctx context.Context, chatID, messageID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_messages (chat_id, message_id, ts) VALUES (?, ?, ?)`,
		chatID, messageID, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark seen failed: %w", err)
	}
	slog.Debug("SQLiteStore.MarkSeen", "chatID", chatID, "messageID", messageID)
	return nil
}

func (s *SQLiteStore) HasForwardedFingerprint(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM forwarded_hashes WHERE hash = ? LIMIT 1`, hash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fingerprint check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkForwardedFingerprint(ctx context.Context, hash, originRef string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO forwarded_hashes (hash, origin_ref, forwarded_ts) VALUES (?, ?, ?)`,
		hash, originRef, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark fingerprint failed: %w", err)
	}
	slog.Debug("SQLiteStore.MarkForwardedFingerprint", "originRef", originRef)
	return nil
}
