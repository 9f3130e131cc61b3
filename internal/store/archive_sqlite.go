package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Compile-time check that SQLiteStore implements ArchiveRepo.
var _ ArchiveRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) ArchiveMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_archive (chat_id, message_id, ts, chat_name, body, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.MessageID, msg.Timestamp.Unix(), msg.ChatName, msg.Text, msg.Payload,
	)
	if err != nil {
		return fmt.Errorf("archive message failed: %w", err)
	}
	slog.Debug("SQLiteStore.ArchiveMessage", "chatID", msg.ChatID, "messageID", msg.MessageID)
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	// SQLite treats a negative LIMIT as unbounded.
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, ts, chat_name, body, payload FROM message_archive
		 WHERE chat_id = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		chatID, limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages failed: %w", err)
	}
	defer rows.Close()
	return scanArchivedMessages(rows)
}

func (s *SQLiteStore) ArchivedChats(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT chat_id FROM message_archive ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("query archived chats failed: %w", err)
	}
	defer rows.Close()
	return scanChatIDs(rows)
}
