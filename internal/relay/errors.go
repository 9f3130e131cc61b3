package relay

import (
	"errors"
	"fmt"
)

// ErrSubscriptionClosed is returned by Live.Consume when the platform ends the
// live stream.
var ErrSubscriptionClosed = errors.New("live subscription closed")

// SourceAccessError reports that a chat's history could not be read.
// Backfill logs it and moves on to the next chat.
type SourceAccessError struct {
	ChatID string
	Err    error
}

func (e *SourceAccessError) Error() string {
	return fmt.Sprintf("cannot read chat %s: %v", e.ChatID, e.Err)
}

func (e *SourceAccessError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed dedup store operation for one message.
type StoreError struct {
	Op        string
	OriginRef string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s for %s: %v", e.Op, e.OriginRef, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
