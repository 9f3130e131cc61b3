package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Compile-time check that PostgresStore implements ArchiveRepo.
var _ ArchiveRepo = (*PostgresStore)(nil)

func (s *PostgresStore) ArchiveMessage(ctx context.Context, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_archive (chat_id, message_id, ts, chat_name, body, payload) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (chat_id, message_id) DO NOTHING`,
		msg.ChatID, msg.MessageID, msg.Timestamp.Unix(), msg.ChatName, msg.Text, msg.Payload,
	)
	if err != nil {
		return fmt.Errorf("archive message failed: %w", err)
	}
	slog.Debug("PostgresStore.ArchiveMessage", "chatID", msg.ChatID, "messageID", msg.MessageID)
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	query := `SELECT chat_id, message_id, ts, chat_name, body, payload FROM message_archive
		 WHERE chat_id = $1 ORDER BY ts DESC, message_id DESC`
	args := []interface{}{chatID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent messages failed: %w", err)
	}
	defer rows.Close()
	return scanArchivedMessages(rows)
}

func (s *PostgresStore) ArchivedChats(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT chat_id FROM message_archive ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("query archived chats failed: %w", err)
	}
	defer rows.Close()
	return scanChatIDs(rows)
}
