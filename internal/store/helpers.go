package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// scanArchivedMessages reads message_archive rows selected as
// (chat_id, message_id, ts, chat_name, body, payload).
func scanArchivedMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var ts int64
		if err := rows.Scan(&m.ChatID, &m.MessageID, &ts, &m.ChatName, &m.Text, &m.Payload); err != nil {
			return nil, fmt.Errorf("scan archived message failed: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived messages failed: %w", err)
	}
	return msgs, nil
}

// scanChatIDs reads a single-column list of chat ids.
func scanChatIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id failed: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat ids failed: %w", err)
	}
	return ids, nil
}

// limitOrAll maps a non-positive limit to "no limit" for SQL LIMIT clauses.
func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}
