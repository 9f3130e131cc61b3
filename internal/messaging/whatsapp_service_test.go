package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

func TestWhatsAppSource_Messages(t *testing.T) {
	client := whatsapp.NewMockClient()
	client.Archive["x"] = []models.Message{
		{ChatID: "x", MessageID: "3"},
		{ChatID: "x", MessageID: "2"},
		{ChatID: "x", MessageID: "1"},
	}
	src := NewWhatsAppSource(client)

	var ids []string
	for msg, err := range src.Messages(context.Background(), "x", 2) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, msg.MessageID)
	}
	if len(ids) != 2 || ids[0] != "3" || ids[1] != "2" {
		t.Errorf("expected newest two messages, got %v", ids)
	}
}

func TestWhatsAppSource_Dialogs(t *testing.T) {
	client := whatsapp.NewMockClient()
	client.Archive["x"] = nil
	client.Archive["y"] = nil
	src := NewWhatsAppSource(client)

	n := 0
	for _, err := range src.Dialogs(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 dialogs, got %d", n)
	}
}

func TestWhatsAppSource_SubscribeFiltersAndCloses(t *testing.T) {
	client := whatsapp.NewMockClient()
	src := NewWhatsAppSource(client)
	// Queued before subscribing.
	client.Deliver(models.Message{ChatID: "other", MessageID: "1"})
	client.Deliver(models.Message{ChatID: "x", MessageID: "2"})

	ch, err := src.Subscribe(context.Background(), models.ChatFilter{ChatIDs: []string{"x"}})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := src.Subscribe(context.Background(), models.ChatFilter{All: true}); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("second Subscribe = %v, want ErrAlreadySubscribed", err)
	}

	select {
	case msg := <-ch:
		if msg.MessageID != "2" {
			t.Errorf("expected message 2, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live message")
	}

	client.End()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close after session end")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestWhatsAppDestination(t *testing.T) {
	client := whatsapp.NewMockClient()
	dest := NewWhatsAppDestination(client, "dest@g.us")
	ctx := context.Background()

	if err := dest.Forward(ctx, models.Message{ChatID: "x", MessageID: "1"}); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if err := dest.SendText(ctx, "hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(client.Sent) != 2 || client.Sent[0].To != "dest@g.us" || client.Sent[1].Body != "hello" {
		t.Errorf("unexpected sends: %+v", client.Sent)
	}

	client.ForwardErr = whatsapp.ErrNotForwardable
	if err := dest.Forward(ctx, models.Message{}); !errors.Is(err, ErrForwardUnsupported) {
		t.Errorf("Forward = %v, want ErrForwardUnsupported", err)
	}
}

func TestWhatsAppDestination_ChatID(t *testing.T) {
	client := whatsapp.NewMockClient()
	tests := []struct {
		to   string
		want string
	}{
		{"dest@g.us", "dest@g.us"},
		{"+15551234567", "15551234567@s.whatsapp.net"},
		{whatsapp.SelfChat, whatsapp.MockSelfJID},
	}
	for _, tt := range tests {
		got, err := NewWhatsAppDestination(client, tt.to).ChatID()
		if err != nil || got != tt.want {
			t.Errorf("ChatID(%q) = %q, %v; want %q", tt.to, got, err, tt.want)
		}
	}
	if _, err := NewWhatsAppDestination(client, " ").ChatID(); err == nil {
		t.Error("expected error for an empty destination")
	}

	var dest Destination = NewTwilioDestination(twiliowhatsapp.NewMockClient(), "+15550000000")
	if _, ok := dest.(ChatResolver); ok {
		t.Error("Twilio destination is not a chat on the source platform")
	}
}

func TestTwilioDestination(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	dest := NewTwilioDestination(client, "+15551234567")
	ctx := context.Background()

	if err := dest.Forward(ctx, models.Message{ChatID: "x", MessageID: "1"}); !errors.Is(err, ErrForwardUnsupported) {
		t.Errorf("Forward = %v, want ErrForwardUnsupported", err)
	}
	if err := dest.SendText(ctx, "fallback body"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(client.SentMessages) != 1 || client.SentMessages[0].To != "+15551234567" {
		t.Errorf("unexpected sends: %+v", client.SentMessages)
	}
}
