package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) HasSeen(ctx context.Context, chatID, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_messages WHERE chat_id = $1 AND message_id = $2 LIMIT 1`,
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

func (s *PostgresStore) MarkSeen(ctx context.Context, chatID, messageID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_messages (chat_id, message_id, ts) VALUES ($1, $2, $3) ON CONFLICT (chat_id, message_id) DO NOTHING`,
		chatID, messageID, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark seen failed: %w", err)
	}
	slog.Debug("PostgresStore.MarkSeen", "chatID", chatID, "messageID", messageID)
	return nil
}

func (s *PostgresStore) HasForwardedFingerprint(ctx context.Context, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM forwarded_hashes WHERE hash = $1 LIMIT 1`, hash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fingerprint check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkForwardedFingerprint(ctx context.Context, hash, originRef string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forwarded_hashes (hash, origin_ref, forwarded_ts) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`,
		hash, originRef, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark fingerprint failed: %w", err)
	}
	slog.Debug("PostgresStore.MarkForwardedFingerprint", "originRef", originRef)
	return nil
}
