package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// Mode selects which phases Orchestrator.Run executes.
type Mode string

const (
	// ModeFull runs backfill (when enabled) and then live monitoring.
	ModeFull Mode = "full"
	// ModeBackfillOnly runs a single backfill pass and returns.
	ModeBackfillOnly Mode = "backfill-only"
)

// DefaultBackfillWindow is how far back backfill looks by default.
const DefaultBackfillWindow = 24 * time.Hour

// Opts configures an Orchestrator.
type Opts struct {
	BackfillEnabled bool
	BackfillWindow  time.Duration
	Filter          models.ChatFilter
	Now             func() time.Time
}

// Option mutates Opts.
type Option func(*Opts)

// WithBackfill enables or disables the backfill phase of a full run.
func WithBackfill(enabled bool) Option {
	return func(o *Opts) { o.BackfillEnabled = enabled }
}

// WithBackfillWindow sets the lookback window. Negative values are ignored.
func WithBackfillWindow(d time.Duration) Option {
	return func(o *Opts) {
		if d >= 0 {
			o.BackfillWindow = d
		}
	}
}

// WithChatFilter selects the monitored chats.
func WithChatFilter(f models.ChatFilter) Option {
	return func(o *Opts) { o.Filter = f }
}

// WithNow overrides the clock used to compute the cutoff.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Orchestrator sequences the two phases. Backfill always finishes before the
// live subscription is opened, and both share one dedup store through the
// processor.
type Orchestrator struct {
	source   messaging.Source
	backfill *Backfill
	live     *Live
	opts     Opts
}

// NewOrchestrator creates an orchestrator. Backfill is enabled by default.
func NewOrchestrator(source messaging.Source, backfill *Backfill, live *Live, opts ...Option) *Orchestrator {
	o := Opts{
		BackfillEnabled: true,
		BackfillWindow:  DefaultBackfillWindow,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Orchestrator{source: source, backfill: backfill, live: live, opts: o}
}

// Run executes mode until it completes or ctx is cancelled. Cancellation is
// a normal shutdown and yields a nil error.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) error {
	runID := util.GenerateRunID()
	slog.Info("Orchestrator run starting", "run_id", runID, "mode", mode, "backfill_enabled", o.opts.BackfillEnabled, "monitor_all", o.opts.Filter.All)

	switch mode {
	case ModeBackfillOnly:
		_, err := o.RunBackfill(ctx)
		return ignoreCancel(err)
	case ModeFull:
	default:
		return fmt.Errorf("unknown run mode %q", mode)
	}

	if o.opts.BackfillEnabled {
		if _, err := o.RunBackfill(ctx); err != nil {
			return ignoreCancel(err)
		}
	} else {
		slog.Info("Orchestrator skipping backfill", "run_id", runID)
	}

	msgs, err := o.source.Subscribe(ctx, o.opts.Filter)
	if err != nil {
		return fmt.Errorf("failed to subscribe to new messages: %w", err)
	}
	slog.Info("Orchestrator live monitoring started", "run_id", runID)
	err = o.live.Consume(ctx, msgs)
	slog.Info("Orchestrator live monitoring stopped", "run_id", runID, "reason", err)
	return ignoreCancel(err)
}

// RunBackfill resolves the chat set and runs one backfill pass.
func (o *Orchestrator) RunBackfill(ctx context.Context) (BackfillResult, error) {
	chats, err := o.backfill.Chats(ctx, o.opts.Filter)
	if err != nil {
		if ctx.Err() != nil {
			return BackfillResult{}, ctx.Err()
		}
		slog.Warn("Orchestrator could not list every chat", "error", err, "chats", len(chats))
	}
	cutoff := o.opts.Now().Add(-o.opts.BackfillWindow)
	return o.backfill.Run(ctx, cutoff, chats)
}

func ignoreCancel(err error) error {
	if isCancellation(err) {
		return nil
	}
	return err
}
