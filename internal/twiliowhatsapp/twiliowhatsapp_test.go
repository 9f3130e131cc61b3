package twiliowhatsapp

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"nothing", nil},
		{"no token", []Option{WithAccountSID("AC1"), WithFromWhats("+1")}},
		{"no sender", []Option{WithAccountSID("AC1"), WithAuthToken("tok")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts...); err == nil {
				t.Error("expected error")
			}
		})
	}

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+15550000000"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.fromWhats != "whatsapp:+15550000000" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestWhatsAppAddress(t *testing.T) {
	if got := WhatsAppAddress(" +1555 "); got != "whatsapp:+1555" {
		t.Errorf("got %q", got)
	}
	if got := WhatsAppAddress("whatsapp:+1555"); got != "whatsapp:+1555" {
		t.Errorf("prefix doubled: %q", got)
	}
}

func TestTruncateBody(t *testing.T) {
	long := strings.Repeat("é", MaxBodyLength+10)
	if got := utf8.RuneCountInString(TruncateBody(long)); got != MaxBodyLength {
		t.Errorf("truncated length = %d, want %d", got, MaxBodyLength)
	}
	if TruncateBody("short") != "short" {
		t.Error("short body changed")
	}
}
