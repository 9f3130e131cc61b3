package forwarder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

func testMessage() models.Message {
	return models.Message{
		ChatID:    "123@g.us",
		MessageID: "ABC",
		Timestamp: time.Unix(1700000000, 0),
		Text:      "Hiring a Go developer",
		ChatName:  "Go Jobs",
	}
}

func TestAttemptForward_Native(t *testing.T) {
	dest := messaging.NewMockDestination()
	st := store.NewInMemoryStore()
	f := New(dest, st, WithMinDelay(0))
	ctx := context.Background()

	if err := f.AttemptForward(ctx, testMessage(), "hiring a go developer", "h1"); err != nil {
		t.Fatalf("AttemptForward failed: %v", err)
	}
	if len(dest.Forwarded) != 1 || len(dest.Texts) != 0 {
		t.Errorf("expected one native forward, got forwards=%d texts=%d", len(dest.Forwarded), len(dest.Texts))
	}
	fps := st.Fingerprints()
	if len(fps) != 1 || fps[0].Hash != "h1" || fps[0].OriginRef != "123@g.us:ABC" {
		t.Errorf("unexpected fingerprints: %+v", fps)
	}
}

func TestAttemptForward_FallbackOnForwardError(t *testing.T) {
	dest := messaging.NewMockDestination()
	dest.ForwardErr = messaging.ErrForwardUnsupported
	st := store.NewInMemoryStore()
	f := New(dest, st, WithMinDelay(0), WithSnippetMaxChars(6))

	if err := f.AttemptForward(context.Background(), testMessage(), "hiring a go developer", "h1"); err != nil {
		t.Fatalf("AttemptForward failed: %v", err)
	}
	if len(dest.Texts) != 1 {
		t.Fatalf("expected one fallback text, got %d", len(dest.Texts))
	}
	text := dest.Texts[0]
	if !strings.HasPrefix(text, FallbackHeader) {
		t.Errorf("fallback text missing header: %q", text)
	}
	if !strings.Contains(text, "\n\nhiring\n\n") {
		t.Errorf("fallback snippet not truncated to 6 chars: %q", text)
	}
	if !strings.HasSuffix(text, "source: Go Jobs") {
		t.Errorf("fallback text missing source: %q", text)
	}
	if len(st.Fingerprints()) != 1 {
		t.Error("fallback success should record the fingerprint")
	}
}

func TestAttemptForward_DeliveryFailure(t *testing.T) {
	dest := messaging.NewMockDestination()
	dest.ForwardErr = errors.New("forbidden")
	dest.SendErr = errors.New("flood wait")
	st := store.NewInMemoryStore()
	f := New(dest, st, WithMinDelay(0))

	err := f.AttemptForward(context.Background(), testMessage(), "hiring", "h1")
	var failure *DeliveryFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected DeliveryFailure, got %v", err)
	}
	if failure.OriginRef != "123@g.us:ABC" {
		t.Errorf("unexpected origin ref %q", failure.OriginRef)
	}
	if len(st.Fingerprints()) != 0 {
		t.Error("failed delivery must not record a fingerprint")
	}
}

func TestFallbackText_UsesChatIDWithoutName(t *testing.T) {
	msg := testMessage()
	msg.ChatName = ""
	got := FallbackText(msg, "text", 800)
	want := FallbackHeader + "\n\ntext\n\n— source: 123@g.us"
	if got != want {
		t.Errorf("FallbackText = %q, want %q", got, want)
	}
}

func TestPace_EnforcesMinimumSpacing(t *testing.T) {
	f := New(messaging.NewMockDestination(), store.NewInMemoryStore(), WithMinDelay(50*time.Millisecond))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := f.Pace(ctx); err != nil {
			t.Fatalf("Pace failed: %v", err)
		}
	}
	// First call is free, the next two wait one interval each.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("three paced attempts took %v, want at least ~100ms", elapsed)
	}
}

func TestPace_HonoursCancellation(t *testing.T) {
	f := New(messaging.NewMockDestination(), store.NewInMemoryStore(), WithMinDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.Pace(ctx); err != nil {
		t.Fatalf("first Pace should not wait: %v", err)
	}
	cancel()
	if err := f.Pace(ctx); err == nil {
		t.Error("Pace should fail once the context is cancelled")
	}
}

func TestDetachedContext_OutlivesParent(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	cancel()

	ctx, done := DetachedContext(parent)
	defer done()

	if err := ctx.Err(); err != nil {
		t.Fatalf("detached context inherited cancellation: %v", err)
	}
	if got := ctx.Value(key{}); got != "v" {
		t.Errorf("detached context lost values, got %v", got)
	}
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > RecordTimeout {
		t.Errorf("expected deadline within %v, got %v (set=%v)", RecordTimeout, deadline, ok)
	}
}
