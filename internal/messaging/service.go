// Package messaging defines the platform boundary of LeadPipe: where messages
// come from (Source) and where relevant ones are delivered (Destination).
package messaging

import (
	"context"
	"errors"
	"iter"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ErrForwardUnsupported is returned by destinations that cannot natively
// forward a message. Callers fall back to a plain text send.
var ErrForwardUnsupported = errors.New("native forward not supported by destination")

// ErrAlreadySubscribed is returned when a Source is subscribed to twice.
var ErrAlreadySubscribed = errors.New("source already has a live subscription")

// Source is the read side of the messaging platform.
type Source interface {
	// Messages yields up to limit messages of a chat, newest first.
	// The sequence is finite. An error ends the sequence.
	Messages(ctx context.Context, chatID string, limit int) iter.Seq2[models.Message, error]

	// Dialogs yields the chat ids the account can read. Used when every chat
	// is monitored.
	Dialogs(ctx context.Context) iter.Seq2[string, error]

	// Subscribe returns the stream of new inbound messages admitted by the
	// filter. The channel is closed when the platform connection ends or ctx
	// is cancelled. A Source supports a single subscription.
	Subscribe(ctx context.Context, filter models.ChatFilter) (<-chan models.Message, error)
}

// Destination is the write side, bound to a single target chat.
type Destination interface {
	// Forward relays the original message, preserving its origin.
	Forward(ctx context.Context, msg models.Message) error

	// SendText sends a plain text message.
	SendText(ctx context.Context, text string) error
}

// ChatResolver is implemented by destinations that are a chat on the source
// platform. The relay never reads from that chat, so its own posts are not
// relayed again.
type ChatResolver interface {
	ChatID() (string, error)
}
