// Package relay runs the classification and dedup pipeline over historical
// (backfill) and live messages, and sequences the two phases.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/classifier"
	"github.com/BTreeMap/LeadPipe/internal/forwarder"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// DefaultFingerprintMaxChars is how much normalized text is hashed.
const DefaultFingerprintMaxChars = 2000

// Outcome is what happened to a single message.
type Outcome string

const (
	OutcomeForwarded        Outcome = "forwarded"
	OutcomeAlreadySeen      Outcome = "already_seen"
	OutcomeNotRelevant      Outcome = "not_relevant"
	OutcomeDuplicateContent Outcome = "duplicate_content"
	OutcomeDeliveryFailed   Outcome = "delivery_failed"
	OutcomeStoreError       Outcome = "store_error"
	OutcomeCancelled        Outcome = "cancelled"
)

// Classifier maps normalized text to a tier.
type Classifier interface {
	Classify(normalized string) classifier.Result
}

// Forwarder paces and performs outbound actions.
type Forwarder interface {
	Pace(ctx context.Context) error
	AttemptForward(ctx context.Context, msg models.Message, normalized, hash string) error
}

// Compile-time check that the concrete forwarder satisfies the pipeline contract.
var _ Forwarder = (*forwarder.Forwarder)(nil)

// Processor applies the per-message pipeline shared by both runners:
// seen check, classification, fingerprint check, forward, record.
type Processor struct {
	store               store.DedupRepo
	classifier          Classifier
	forwarder           Forwarder
	fingerprintMaxChars int
	metrics             *metrics.Metrics
}

// NewProcessor wires the pipeline. fingerprintMaxChars <= 0 selects the default.
func NewProcessor(st store.DedupRepo, c Classifier, f Forwarder, fingerprintMaxChars int, m *metrics.Metrics) *Processor {
	if fingerprintMaxChars <= 0 {
		fingerprintMaxChars = DefaultFingerprintMaxChars
	}
	return &Processor{
		store:               st,
		classifier:          c,
		forwarder:           f,
		fingerprintMaxChars: fingerprintMaxChars,
		metrics:             m,
	}
}

// Process runs one message through the pipeline. The returned error is a
// *StoreError for bookkeeping failures, a *forwarder.DeliveryFailure, or,
// with OutcomeCancelled, an error matching context.Canceled or
// context.DeadlineExceeded when the run ends before the message could be sent.
func (p *Processor) Process(ctx context.Context, runner string, msg models.Message) (Outcome, error) {
	outcome, err := p.process(ctx, msg)
	p.metrics.Outcome(runner, string(outcome))
	return outcome, err
}

func (p *Processor) process(ctx context.Context, msg models.Message) (Outcome, error) {
	ref := msg.OriginRef()

	seen, err := p.store.HasSeen(ctx, msg.ChatID, msg.MessageID)
	if err != nil {
		return OutcomeStoreError, &StoreError{Op: "seen check", OriginRef: ref, Err: err}
	}
	if seen {
		return OutcomeAlreadySeen, nil
	}

	normalized := util.Normalize(msg.Text)
	result := p.classifier.Classify(normalized)
	p.metrics.Classified(string(result.Tier))
	if !result.Relevant() || normalized == "" {
		slog.Debug("Processor message not relevant", "origin", ref, "tier", result.Tier, "reason", result.Reason)
		return p.markSeen(ctx, msg, OutcomeNotRelevant)
	}

	hash := util.Fingerprint(normalized, p.fingerprintMaxChars)
	forwarded, err := p.store.HasForwardedFingerprint(ctx, hash)
	if err != nil {
		return OutcomeStoreError, &StoreError{Op: "fingerprint check", OriginRef: ref, Err: err}
	}
	if forwarded {
		slog.Debug("Processor content already forwarded", "origin", ref)
		return p.markSeen(ctx, msg, OutcomeDuplicateContent)
	}

	if err := p.forwarder.Pace(ctx); err != nil {
		return OutcomeCancelled, pacingStopped(ctx, err)
	}
	slog.Info("Processor forwarding relevant message", "origin", ref, "reason", result.Reason)
	if err := p.forwarder.AttemptForward(ctx, msg, normalized, hash); err != nil {
		// Not marked seen: a later run may try again.
		return OutcomeDeliveryFailed, err
	}
	return p.markSeen(ctx, msg, OutcomeForwarded)
}

// markSeen records the message and keeps outcome unless the write fails before
// anything was sent. A failed write after a forward still reports the forward.
func (p *Processor) markSeen(ctx context.Context, msg models.Message, outcome Outcome) (Outcome, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if outcome == OutcomeForwarded {
		// Delivered: record it even if the run is being stopped.
		var cancel context.CancelFunc
		ctx, cancel = forwarder.DetachedContext(ctx)
		defer cancel()
	}
	if err := p.store.MarkSeen(ctx, msg.ChatID, msg.MessageID, ts.UTC()); err != nil {
		storeErr := &StoreError{Op: "mark seen", OriginRef: msg.OriginRef(), Err: err}
		if outcome == OutcomeForwarded {
			return outcome, storeErr
		}
		return OutcomeStoreError, storeErr
	}
	return outcome, nil
}

// pacingStopped maps a pacing error to a context error. The limiter refuses
// early, before ctx is done, when the wait would pass ctx's deadline.
func pacingStopped(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
}

// isCancellation reports whether err comes from ctx being cancelled.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
