package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

const (
	runnerBackfill = "backfill"

	// DefaultBackfillLimitPerChat caps how many messages are read per chat.
	DefaultBackfillLimitPerChat = 500
)

// BackfillResult summarizes one backfill pass.
type BackfillResult struct {
	Forwarded   int
	Skipped     int
	FailedChats []string
}

// Backfill scans recent history of each chat, newest first, down to a cutoff.
type Backfill struct {
	source       messaging.Source
	proc         *Processor
	limitPerChat int
	metrics      *metrics.Metrics
}

// NewBackfill creates a backfill runner. limitPerChat <= 0 selects the default.
func NewBackfill(source messaging.Source, proc *Processor, limitPerChat int, m *metrics.Metrics) *Backfill {
	if limitPerChat <= 0 {
		limitPerChat = DefaultBackfillLimitPerChat
	}
	return &Backfill{source: source, proc: proc, limitPerChat: limitPerChat, metrics: m}
}

// Chats resolves the chats to scan: the source's dialogs when every chat is
// monitored, otherwise the filter's explicit list. Chats the filter excludes
// (the destination) are never scanned.
func (b *Backfill) Chats(ctx context.Context, filter models.ChatFilter) ([]string, error) {
	if !filter.All {
		var chats []string
		for _, id := range filter.ChatIDs {
			if filter.Matches(id) {
				chats = append(chats, id)
			}
		}
		return chats, nil
	}
	var chats []string
	for id, err := range b.source.Dialogs(ctx) {
		if err != nil {
			return chats, fmt.Errorf("failed to list dialogs: %w", err)
		}
		if !filter.Matches(id) {
			slog.Debug("Backfill skipping excluded chat", "chat_id", id)
			continue
		}
		chats = append(chats, id)
	}
	return chats, nil
}

// Run processes every message at or after cutoff in each chat. A chat that
// cannot be read is logged, counted once in Skipped and listed in FailedChats;
// the remaining chats are still processed. Run returns early only when ctx is
// cancelled or its deadline leaves no time to forward, with the partial result.
func (b *Backfill) Run(ctx context.Context, cutoff time.Time, chatIDs []string) (BackfillResult, error) {
	start := time.Now()
	var res BackfillResult
	defer func() { b.metrics.BackfillDuration(time.Since(start)) }()

	slog.Info("Backfill starting", "chats", len(chatIDs), "cutoff", cutoff.UTC().Format(time.RFC3339), "limit_per_chat", b.limitPerChat)
	for _, chatID := range chatIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := b.runChat(ctx, cutoff, chatID, &res)
		if err == nil {
			continue
		}
		var sae *SourceAccessError
		if !errors.As(err, &sae) {
			// The run is ending; later chats would stop the same way.
			return res, err
		}
		slog.Warn("Backfill cannot read chat", "chat_id", chatID, "error", err)
		res.Skipped++
		res.FailedChats = append(res.FailedChats, chatID)
		b.metrics.ChatFailed()
	}
	slog.Info("Backfill finished", "forwarded", res.Forwarded, "skipped", res.Skipped, "failed_chats", len(res.FailedChats), "elapsed", time.Since(start))
	return res, nil
}

// runChat scans one chat. Source failures come back as *SourceAccessError,
// anything else returned means the run is ending. Per-message problems are
// counted in res.
func (b *Backfill) runChat(ctx context.Context, cutoff time.Time, chatID string, res *BackfillResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SourceAccessError{ChatID: chatID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	for msg, iterErr := range b.source.Messages(ctx, chatID, b.limitPerChat) {
		if iterErr != nil {
			if isCancellation(iterErr) && ctx.Err() != nil {
				return iterErr
			}
			return &SourceAccessError{ChatID: chatID, Err: iterErr}
		}
		if msg.Timestamp.IsZero() || msg.Validate() != nil {
			continue
		}
		// Newest first: everything after this one is older still.
		if msg.Timestamp.Before(cutoff) {
			break
		}

		outcome, perr := b.proc.Process(ctx, runnerBackfill, msg)
		switch outcome {
		case OutcomeForwarded:
			res.Forwarded++
			if perr != nil {
				slog.Warn("Backfill forwarded but could not record message", "origin", msg.OriginRef(), "error", perr)
			}
		case OutcomeCancelled:
			return perr
		default:
			res.Skipped++
			if perr != nil {
				slog.Warn("Backfill message not forwarded", "origin", msg.OriginRef(), "outcome", outcome, "error", perr)
			}
		}
	}
	return nil
}
