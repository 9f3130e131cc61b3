package relay

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

const runnerLive = "live"

// Live handles new messages as the platform delivers them.
type Live struct {
	proc *Processor
}

// NewLive creates a live runner over the shared processor.
func NewLive(proc *Processor) *Live {
	return &Live{proc: proc}
}

// OnMessage processes a single live message. Errors are logged; nothing
// escapes to the subscription.
func (l *Live) OnMessage(ctx context.Context, msg models.Message) Outcome {
	if err := msg.Validate(); err != nil {
		slog.Debug("Live.OnMessage dropping message without identity", "error", err)
		return OutcomeNotRelevant
	}
	outcome, err := l.proc.Process(ctx, runnerLive, msg)
	if err != nil && outcome != OutcomeCancelled {
		slog.Warn("Live.OnMessage failed", "origin", msg.OriginRef(), "outcome", outcome, "error", err)
	}
	return outcome
}

// Consume processes messages sequentially until the channel closes or ctx
// ends (including a deadline too close to wait for pacing). A closed channel yields ErrSubscriptionClosed.
func (l *Live) Consume(ctx context.Context, msgs <-chan models.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrSubscriptionClosed
			}
			if l.OnMessage(ctx, msg) == OutcomeCancelled {
				if err := ctx.Err(); err != nil {
					return err
				}
				// Pacing refused to wait past ctx's deadline.
				return context.DeadlineExceeded
			}
		}
	}
}
