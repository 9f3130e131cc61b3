package store

import (
	"context"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ArchiveRepo stores every message the platform adapter receives so that
// history can be replayed newest-first during backfill.
type ArchiveRepo interface {
	// ArchiveMessage stores a message. Re-archiving an existing
	// (chat, message) key is a no-op.
	ArchiveMessage(ctx context.Context, msg models.Message) error

	// RecentMessages returns up to limit messages of a chat, newest first.
	// A limit <= 0 means no limit.
	RecentMessages(ctx context.Context, chatID string, limit int) ([]models.Message, error)

	// ArchivedChats lists the chat ids present in the archive.
	ArchivedChats(ctx context.Context) ([]string, error)
}
