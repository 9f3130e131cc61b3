package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// archiveTimeout bounds a single archive write from the event handler.
const archiveTimeout = 10 * time.Second

// SessionDriver returns the database/sql driver for the whatsmeow session DSN.
func SessionDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// HasForeignKeys reports whether a SQLite DSN enables foreign keys, which
// whatsmeow recommends. Postgres DSNs always report true.
func HasForeignKeys(dsn string) bool {
	if SessionDriver(dsn) == "postgres" {
		return true
	}
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// ParseChatJID accepts a full JID ("123@g.us") or a bare phone number, which
// is taken to be a user chat.
func ParseChatJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("chat id cannot be empty")
	}
	if !strings.Contains(s, "@") {
		return types.NewJID(strings.TrimPrefix(s, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid chat id %q: %w", s, err)
	}
	return jid, nil
}

// MessageText extracts the readable text of a message: the body of a text
// message or the caption of a media message. Other kinds yield "".
func MessageText(m *waE2E.Message) string {
	switch {
	case m == nil:
		return ""
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption()
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption()
	}
	return ""
}

// BuildForward decodes an archived payload and marks it as forwarded. Plain
// conversation text is promoted to an extended text message since only the
// latter carries context info.
func BuildForward(payload []byte) (*waE2E.Message, error) {
	if len(payload) == 0 {
		return nil, ErrNotForwardable
	}
	var orig waE2E.Message
	if err := proto.Unmarshal(payload, &orig); err != nil {
		return nil, fmt.Errorf("failed to decode archived message: %w", err)
	}

	fwd := proto.Clone(&orig).(*waE2E.Message)
	switch {
	case fwd.GetConversation() != "":
		text := fwd.GetConversation()
		return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: forwardedContext(nil),
		}}, nil
	case fwd.ExtendedTextMessage != nil:
		fwd.ExtendedTextMessage.ContextInfo = forwardedContext(fwd.ExtendedTextMessage.ContextInfo)
	case fwd.ImageMessage != nil:
		fwd.ImageMessage.ContextInfo = forwardedContext(fwd.ImageMessage.ContextInfo)
	case fwd.VideoMessage != nil:
		fwd.VideoMessage.ContextInfo = forwardedContext(fwd.VideoMessage.ContextInfo)
	case fwd.DocumentMessage != nil:
		fwd.DocumentMessage.ContextInfo = forwardedContext(fwd.DocumentMessage.ContextInfo)
	default:
		return nil, ErrNotForwardable
	}
	return fwd, nil
}

// forwardedContext keeps nothing of the original context but the forwarding
// score, so quotes and mentions of the source chat do not leak.
func forwardedContext(orig *waE2E.ContextInfo) *waE2E.ContextInfo {
	score := orig.GetForwardingScore() + 1
	return &waE2E.ContextInfo{
		IsForwarded:     proto.Bool(true),
		ForwardingScore: proto.Uint32(score),
	}
}

// messageFromEvent converts a whatsmeow message event. ok is false for
// events without readable text or identity.
func messageFromEvent(evt *events.Message, chatName string) (models.Message, bool) {
	if evt == nil || evt.Message == nil {
		return models.Message{}, false
	}
	text := MessageText(evt.Message)
	if text == "" || evt.Info.ID == "" || evt.Info.Chat.IsEmpty() {
		return models.Message{}, false
	}
	payload, err := proto.Marshal(evt.Message)
	if err != nil {
		slog.Warn("WhatsApp could not encode message payload", "id", evt.Info.ID, "error", err)
		payload = nil
	}
	return models.Message{
		ChatID:    evt.Info.Chat.String(),
		MessageID: evt.Info.ID,
		Timestamp: evt.Info.Timestamp.UTC(),
		Text:      text,
		ChatName:  chatName,
		Payload:   payload,
	}, true
}

// handleEvent is registered with whatsmeow and runs on its event goroutine.
func (c *Client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleLiveMessage(v)
	case *events.HistorySync:
		c.handleHistorySync(v)
	case *events.Connected:
		slog.Info("WhatsApp connected")
	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected; whatsmeow will reconnect")
	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out", "reason", v.Reason.String())
		c.finish()
	}
}

func (c *Client) handleLiveMessage(evt *events.Message) {
	if evt.Info.Chat == types.StatusBroadcastJID {
		return
	}
	msg, ok := messageFromEvent(evt, c.chatName(evt.Info.Chat.String()))
	if !ok {
		slog.Debug("WhatsApp ignoring message without text", "chat", evt.Info.Chat.String(), "id", evt.Info.ID)
		return
	}
	c.archiveMessage(msg)

	// The account's own messages are archived for history but never relayed live.
	if evt.Info.IsFromMe {
		return
	}
	select {
	case c.live <- msg:
	default:
		slog.Warn("WhatsApp live queue full, dropping message; it remains in the archive", "origin", msg.OriginRef())
	}
}

func (c *Client) handleHistorySync(evt *events.HistorySync) {
	if evt.Data == nil {
		return
	}
	archived := 0
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil || chatJID == types.StatusBroadcastJID {
			continue
		}
		if name := conv.GetName(); name != "" {
			c.setChatName(chatJID.String(), name)
		}
		for _, hist := range conv.GetMessages() {
			parsed, err := c.waClient.ParseWebMessage(chatJID, hist.GetMessage())
			if err != nil {
				slog.Debug("WhatsApp skipping unparsable history message", "chat", chatJID.String(), "error", err)
				continue
			}
			msg, ok := messageFromEvent(parsed, conv.GetName())
			if !ok {
				continue
			}
			c.archiveMessage(msg)
			archived++
		}
	}
	slog.Info("WhatsApp history sync archived", "type", evt.Data.GetSyncType().String(), "conversations", len(evt.Data.GetConversations()), "messages", archived)
}

func (c *Client) archiveMessage(msg models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := c.archive.ArchiveMessage(ctx, msg); err != nil {
		slog.Error("WhatsApp failed to archive message", "origin", msg.OriginRef(), "error", err)
	}
}

func (c *Client) chatName(chatID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatNames[chatID]
}

func (c *Client) setChatName(chatID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chatNames[chatID] = name
}
