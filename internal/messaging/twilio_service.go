package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
)

// TwilioDestination implements Destination through the Twilio WhatsApp API.
// Twilio cannot forward, so every relay takes the text fallback path.
type TwilioDestination struct {
	client twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	to     string
}

// NewTwilioDestination creates a Destination delivering to the phone number to.
func NewTwilioDestination(client twiliowhatsapp.TwilioWhatsAppSender, to string) *TwilioDestination {
	return &TwilioDestination{client: client, to: to}
}

var _ Destination = (*TwilioDestination)(nil)

// Forward always returns ErrForwardUnsupported.
func (d *TwilioDestination) Forward(ctx context.Context, msg models.Message) error {
	slog.Debug("TwilioDestination Forward unsupported", "origin", msg.OriginRef())
	return ErrForwardUnsupported
}

// SendText sends text to the destination number.
func (d *TwilioDestination) SendText(ctx context.Context, text string) error {
	if err := d.client.SendMessage(ctx, d.to, text); err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}
	return nil
}
