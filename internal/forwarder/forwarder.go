// Package forwarder delivers relevant messages to the destination chat.
//
// A native forward is tried first; if the destination rejects it, a plain
// text summary is sent instead. Both paths record the content fingerprint
// only after the send succeeded.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// Default forwarder settings
const (
	// DefaultMinDelay is the minimum spacing between two outbound attempts.
	DefaultMinDelay = 1500 * time.Millisecond
	// DefaultSnippetMaxChars bounds the normalized text quoted in a fallback send.
	DefaultSnippetMaxChars = 800
	// FallbackHeader opens every fallback text.
	FallbackHeader = "Forward candidate (fallback):"
	// RecordTimeout bounds bookkeeping writes made after a delivery.
	RecordTimeout = 10 * time.Second
)

// FingerprintRecorder is the part of the dedup store the forwarder writes to.
type FingerprintRecorder interface {
	MarkForwardedFingerprint(ctx context.Context, hash, originRef string, ts time.Time) error
}

// DeliveryFailure is returned when both the native forward and the fallback
// send failed. The relay leaves the message unmarked so a later run retries it.
type DeliveryFailure struct {
	OriginRef   string
	ForwardErr  error
	FallbackErr error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery of %s failed: forward: %v; fallback: %v", e.OriginRef, e.ForwardErr, e.FallbackErr)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.FallbackErr
}

// Opts holds configuration options for the Forwarder.
type Opts struct {
	MinDelay        time.Duration
	SnippetMaxChars int
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// Option defines a configuration option for the Forwarder.
type Option func(*Opts)

// WithMinDelay sets the minimum delay between outbound attempts. Zero disables pacing.
func WithMinDelay(d time.Duration) Option {
	return func(o *Opts) { o.MinDelay = d }
}

// WithSnippetMaxChars sets how much normalized text a fallback send quotes.
func WithSnippetMaxChars(n int) Option {
	return func(o *Opts) { o.SnippetMaxChars = n }
}

// WithMetrics attaches pipeline counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithClock overrides the clock used for fingerprint timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Forwarder performs the forward-or-fallback action against one destination.
type Forwarder struct {
	dest            messaging.Destination
	recorder        FingerprintRecorder
	limiter         *rate.Limiter
	snippetMaxChars int
	metrics         *metrics.Metrics
	now             func() time.Time
}

// New creates a Forwarder writing fingerprints to recorder.
func New(dest messaging.Destination, recorder FingerprintRecorder, opts ...Option) *Forwarder {
	cfg := Opts{MinDelay: DefaultMinDelay, SnippetMaxChars: DefaultSnippetMaxChars, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	if cfg.SnippetMaxChars <= 0 {
		cfg.SnippetMaxChars = DefaultSnippetMaxChars
	}
	slog.Debug("Forwarder created", "min_delay", cfg.MinDelay, "snippet_max_chars", cfg.SnippetMaxChars)

	return &Forwarder{
		dest:            dest,
		recorder:        recorder,
		limiter:         rate.NewLimiter(limit, 1),
		snippetMaxChars: cfg.SnippetMaxChars,
		metrics:         cfg.Metrics,
		now:             cfg.Now,
	}
}

// Pace blocks until the minimum delay since the previous outbound attempt has
// elapsed, or ctx is done. Burst is 1, so attempts are strictly spaced.
func (f *Forwarder) Pace(ctx context.Context) error {
	return f.limiter.Wait(ctx)
}

// AttemptForward delivers msg and records its fingerprint. The caller must
// already have checked that the fingerprint is not recorded. A nil return
// means one outbound action reached the destination.
func (f *Forwarder) AttemptForward(ctx context.Context, msg models.Message, normalized, hash string) error {
	path := metrics.PathNative
	fwdErr := f.dest.Forward(ctx, msg)
	if fwdErr != nil {
		slog.Warn("Forwarder native forward failed, sending fallback", "origin", msg.OriginRef(), "error", fwdErr)
		path = metrics.PathFallback
		if err := f.dest.SendText(ctx, FallbackText(msg, normalized, f.snippetMaxChars)); err != nil {
			f.metrics.ForwardAttempt(metrics.PathFailed)
			failure := &DeliveryFailure{OriginRef: msg.OriginRef(), ForwardErr: fwdErr, FallbackErr: err}
			slog.Error("Forwarder delivery failed", "origin", msg.OriginRef(), "error", failure)
			return failure
		}
	}
	f.metrics.ForwardAttempt(path)

	// The send happened, so the record must survive shutdown of the run.
	// A failed write here may let the same content through again later.
	recCtx, cancel := DetachedContext(ctx)
	defer cancel()
	if err := f.recorder.MarkForwardedFingerprint(recCtx, hash, msg.OriginRef(), f.now().UTC()); err != nil {
		slog.Error("Forwarder failed to record fingerprint after delivery", "origin", msg.OriginRef(), "error", err)
	}
	slog.Info("Forwarder delivered message", "origin", msg.OriginRef(), "path", path)
	return nil
}

// DetachedContext keeps ctx's values but not its cancellation, bounded by
// RecordTimeout.
func DetachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), RecordTimeout)
}

// FallbackText builds the plain text sent when a native forward is rejected.
func FallbackText(msg models.Message, normalized string, snippetMaxChars int) string {
	snippet := util.TruncateRunes(normalized, snippetMaxChars)
	return fmt.Sprintf("%s\n\n%s\n\n— source: %s", FallbackHeader, snippet, msg.SourceLabel())
}
