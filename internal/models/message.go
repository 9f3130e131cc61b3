// Package models defines the core data structures for LeadPipe.
//
// It includes the platform-neutral message type shared by the source adapters,
// the classification pipeline and the dedup store.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Message is a single inbound chat message as seen by the pipeline.
// The pipeline never mutates a Message.
type Message struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`

	// ChatName is a human readable chat title, when the platform knows one.
	ChatName string `json:"chat_name,omitempty"`
	// Payload is the serialized platform message, used only by the platform
	// adapter to forward the original.
	Payload []byte `json:"-"`
}

// Error variables for message validation
var (
	ErrEmptyChatID    = errors.New("chat id cannot be empty")
	ErrEmptyMessageID = errors.New("message id cannot be empty")
)

// Validate checks that the message carries a usable identity.
func (m Message) Validate() error {
	if m.ChatID == "" {
		return ErrEmptyChatID
	}
	if m.MessageID == "" {
		return ErrEmptyMessageID
	}
	return nil
}

// OriginRef returns the "<chat>:<message>" reference stored alongside a
// forwarded fingerprint.
func (m Message) OriginRef() string {
	return fmt.Sprintf("%s:%s", m.ChatID, m.MessageID)
}

// SourceLabel returns the chat name if known, falling back to the chat id.
func (m Message) SourceLabel() string {
	if m.ChatName != "" {
		return m.ChatName
	}
	return m.ChatID
}

// ChatFilter selects which chats are read, by backfill and by the live
// subscription. A zero-value filter with All unset and no ChatIDs matches
// nothing. Exclude wins over both All and ChatIDs.
type ChatFilter struct {
	All     bool
	ChatIDs []string
	// Exclude lists chats never read, such as the destination itself.
	Exclude []string
}

// Matches reports whether the filter admits messages from chatID.
func (f ChatFilter) Matches(chatID string) bool {
	for _, id := range f.Exclude {
		if id == chatID {
			return false
		}
	}
	if f.All {
		return true
	}
	for _, id := range f.ChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
