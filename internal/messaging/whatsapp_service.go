package messaging

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// DefaultChannelBufferSize is the buffer of the channel handed to live subscribers.
const DefaultChannelBufferSize = 100

// WhatsAppSource implements Source over the archiving whatsapp client.
type WhatsAppSource struct {
	client whatsapp.WhatsAppReader

	mu         sync.Mutex
	subscribed bool
}

// NewWhatsAppSource creates a Source reading from client.
func NewWhatsAppSource(client whatsapp.WhatsAppReader) *WhatsAppSource {
	return &WhatsAppSource{client: client}
}

var _ Source = (*WhatsAppSource)(nil)

// Messages yields archived messages of a chat, newest first.
func (s *WhatsAppSource) Messages(ctx context.Context, chatID string, limit int) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		msgs, err := s.client.History(ctx, chatID, limit)
		if err != nil {
			yield(models.Message{}, err)
			return
		}
		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				yield(models.Message{}, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Dialogs yields every chat seen by the client so far.
func (s *WhatsAppSource) Dialogs(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		chats, err := s.client.Chats(ctx)
		if err != nil {
			yield("", fmt.Errorf("failed to list chats: %w", err))
			return
		}
		for _, id := range chats {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// Subscribe starts relaying queued live messages that pass filter. Messages
// queued while nobody was subscribed are delivered first.
func (s *WhatsAppSource) Subscribe(ctx context.Context, filter models.ChatFilter) (<-chan models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil, ErrAlreadySubscribed
	}
	s.subscribed = true

	out := make(chan models.Message, DefaultChannelBufferSize)
	go s.pump(ctx, filter, out)
	slog.Debug("WhatsAppSource subscribed", "monitor_all", filter.All, "chats", len(filter.ChatIDs))
	return out, nil
}

func (s *WhatsAppSource) pump(ctx context.Context, filter models.ChatFilter, out chan<- models.Message) {
	defer close(out)
	in := s.client.Incoming()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Done():
			slog.Info("WhatsAppSource session ended, closing subscription")
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if !filter.Matches(msg.ChatID) {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// WhatsAppDestination implements Destination by sending to one WhatsApp chat.
type WhatsAppDestination struct {
	client whatsapp.WhatsAppSender
	to     string
}

// NewWhatsAppDestination creates a Destination delivering to chat to.
func NewWhatsAppDestination(client whatsapp.WhatsAppSender, to string) *WhatsAppDestination {
	return &WhatsAppDestination{client: client, to: to}
}

var (
	_ Destination  = (*WhatsAppDestination)(nil)
	_ ChatResolver = (*WhatsAppDestination)(nil)
)

// ChatID returns the destination chat as it appears in incoming messages.
func (d *WhatsAppDestination) ChatID() (string, error) {
	return d.client.ResolveChatID(d.to)
}

// Forward re-sends the original message as a forward.
func (d *WhatsAppDestination) Forward(ctx context.Context, msg models.Message) error {
	err := d.client.ForwardMessage(ctx, d.to, msg)
	if errors.Is(err, whatsapp.ErrNotForwardable) {
		return fmt.Errorf("%w: %w", ErrForwardUnsupported, err)
	}
	return err
}

// SendText sends plain text to the destination chat.
func (d *WhatsAppDestination) SendText(ctx context.Context, text string) error {
	return d.client.SendText(ctx, d.to, text)
}
