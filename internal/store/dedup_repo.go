// Package store provides the DedupRepo interface for pipeline deduplication.
package store

import (
	"context"
	"time"
)

// SeenRecord marks that a (chat, message) pair has been run through the
// pipeline, whatever the outcome.
type SeenRecord struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ForwardedFingerprint marks that content with this fingerprint has been
// delivered to the destination.
type ForwardedFingerprint struct {
	Hash        string    `json:"hash"`
	OriginRef   string    `json:"origin_ref"`
	ForwardedAt time.Time `json:"forwarded_at"`
}

// DedupRepo defines the dedup tables. Both inserts are idempotent: inserting
// an existing key is a no-op and not an error.
type DedupRepo interface {
	// HasSeen reports whether the message has already been processed.
	HasSeen(ctx context.Context, chatID, messageID string) (bool, error)

	// MarkSeen records the message as processed.
	MarkSeen(ctx context.Context, chatID, messageID string, ts time.Time) error

	// HasForwardedFingerprint reports whether content with this hash was forwarded.
	HasForwardedFingerprint(ctx context.Context, hash string) (bool, error)

	// MarkForwardedFingerprint records a successful forward of this content.
	MarkForwardedFingerprint(ctx context.Context, hash, originRef string, ts time.Time) error
}
