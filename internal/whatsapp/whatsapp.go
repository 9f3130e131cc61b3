// Package whatsapp wraps the Whatsmeow client for LeadPipe.
//
// It logs in (reusing a stored session when present), archives every message
// it receives from history sync and live events, queues live messages for the
// relay, and sends or forwards messages to a destination chat.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/leadpipe/whatsmeow.db"
	// DefaultLiveBufferSize bounds the queue of live messages awaiting the relay.
	DefaultLiveBufferSize = 1000
	// SelfChat names the account's own chat as a destination.
	SelfChat = "me"
)

var (
	// ErrNotConnected is returned when the underlying client is missing.
	ErrNotConnected = errors.New("whatsapp client not initialized")
	// ErrNotForwardable is returned for messages whose kind cannot be re-sent as a forward.
	ErrNotForwardable = errors.New("message kind cannot be forwarded")
)

// WhatsAppSender is the outbound side used by destinations.
type WhatsAppSender interface {
	SendText(ctx context.Context, to string, body string) error
	ForwardMessage(ctx context.Context, to string, msg models.Message) error
	// ResolveChatID returns the chat id a destination address refers to, in
	// the form messages from that chat carry.
	ResolveChatID(to string) (string, error)
}

// WhatsAppReader is the inbound side used by sources.
type WhatsAppReader interface {
	History(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	Chats(ctx context.Context) ([]string, error)
	Incoming() <-chan models.Message
	Done() <-chan struct{}
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN          string            // WhatsApp/whatsmeow database connection string
	QRPath         string            // path to write login QR code
	NumericCode    bool              // print the raw login code instead of a QR code
	Archive        store.ArchiveRepo // where received messages are kept
	LiveBufferSize int               // capacity of the live queue
	LogLevel       string            // whatsmeow logger level
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to print the login code as text.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithArchive sets the message archive. Required.
func WithArchive(repo store.ArchiveRepo) Option {
	return func(o *Opts) {
		o.Archive = repo
	}
}

// WithLiveBufferSize sets how many live messages may queue before new ones are dropped.
func WithLiveBufferSize(n int) Option {
	return func(o *Opts) {
		o.LiveBufferSize = n
	}
}

// WithLogLevel sets the whatsmeow logger level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = strings.ToUpper(level)
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	archive  store.ArchiveRepo
	live     chan models.Message

	mu        sync.RWMutex
	chatNames map[string]string

	done     chan struct{}
	doneOnce sync.Once
}

var (
	_ WhatsAppSender = (*Client)(nil)
	_ WhatsAppReader = (*Client)(nil)
)

// NewClient creates a WhatsApp client, logs in if needed and connects.
// The event handler is registered before connecting so that history sync
// batches delivered right after login are archived.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{LiveBufferSize: DefaultLiveBufferSize, LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	if cfg.Archive == nil {
		return nil, fmt.Errorf("whatsapp client requires a message archive")
	}
	if cfg.LiveBufferSize <= 0 {
		cfg.LiveBufferSize = DefaultLiveBufferSize
	}

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}
	dbDriver := SessionDriver(dbDSN)
	if dbDriver == "sqlite3" && !HasForeignKeys(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{
		waClient:  whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true)),
		archive:   cfg.Archive,
		live:      make(chan models.Message, cfg.LiveBufferSize),
		chatNames: make(map[string]string),
		done:      make(chan struct{}),
	}
	c.waClient.AddEventHandler(c.handleEvent)

	if c.waClient.Store.ID == nil {
		if err := c.login(ctx, cfg); err != nil {
			c.waClient.Disconnect()
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := c.waClient.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return c, nil
}

// login runs the QR pairing flow and returns once the device is paired.
func (c *Client) login(ctx context.Context, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := c.waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, ferr := os.Create(cfg.QRPath)
		if ferr != nil {
			return fmt.Errorf("failed to create QR file: %w", ferr)
		}
		defer f.Close()
		writer = f
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
		case "success":
			slog.Info("WhatsApp login succeeded")
			return nil
		default:
			slog.Debug("WhatsApp login event", "event", evt.Event)
			if evt.Error != nil {
				return fmt.Errorf("whatsapp login failed: %w", evt.Error)
			}
		}
	}
	return fmt.Errorf("whatsapp login did not complete")
}

// Incoming returns the queue of live messages, in arrival order.
func (c *Client) Incoming() <-chan models.Message {
	return c.live
}

// Done is closed when the session ends (logout or Close).
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// History returns up to limit archived messages of a chat, newest first.
func (c *Client) History(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	msgs, err := c.archive.RecentMessages(ctx, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive for %s: %w", chatID, err)
	}
	return msgs, nil
}

// Chats lists the chats present in the archive.
func (c *Client) Chats(ctx context.Context) ([]string, error) {
	return c.archive.ArchivedChats(ctx)
}

// SendText sends a plain text message to a chat JID or phone number.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotConnected
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	jid, err := c.resolveTarget(to)
	if err != nil {
		return err
	}

	slog.Debug("Sending WhatsApp message", "to", jid.String(), "body_length", len(body))
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", jid, err)
	}
	return nil
}

// ForwardMessage re-sends the archived original of msg to a chat, marked as
// forwarded. Messages without a forwardable payload yield ErrNotForwardable.
func (c *Client) ForwardMessage(ctx context.Context, to string, msg models.Message) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotConnected
	}
	jid, err := c.resolveTarget(to)
	if err != nil {
		return err
	}
	fwd, err := BuildForward(msg.Payload)
	if err != nil {
		return err
	}

	slog.Debug("Forwarding WhatsApp message", "to", jid.String(), "origin", msg.OriginRef())
	if _, err := c.waClient.SendMessage(ctx, jid, fwd); err != nil {
		return fmt.Errorf("failed to forward %s to %s: %w", msg.OriginRef(), jid, err)
	}
	return nil
}

// resolveTarget maps SelfChat to the logged-in account's own chat.
func (c *Client) resolveTarget(to string) (types.JID, error) {
	if to == SelfChat {
		if c.waClient.Store.ID == nil {
			return types.JID{}, ErrNotConnected
		}
		return c.waClient.Store.ID.ToNonAD(), nil
	}
	return ParseChatJID(to)
}

// ResolveChatID maps a destination (JID, phone number or SelfChat) to its chat id.
func (c *Client) ResolveChatID(to string) (string, error) {
	if c.waClient == nil || c.waClient.Store == nil {
		return "", ErrNotConnected
	}
	jid, err := c.resolveTarget(to)
	if err != nil {
		return "", err
	}
	return jid.String(), nil
}

// Close disconnects from WhatsApp and ends the live stream.
func (c *Client) Close() error {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
	c.finish()
	return nil
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// GetClient returns the underlying whatsmeow client.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockSelfJID is the account chat the MockClient resolves SelfChat to.
const MockSelfJID = "15550000000@s.whatsapp.net"

// MockClient implements the sender and reader interfaces in memory (for tests).
type MockClient struct {
	mu         sync.Mutex
	Archive    map[string][]models.Message // newest first
	Sent       []SentMessage
	SendErr    error
	ForwardErr error

	live chan models.Message
	done chan struct{}
}

// SentMessage records one outbound action of the MockClient.
type SentMessage struct {
	To        string
	Body      string
	Forwarded *models.Message
}

func NewMockClient() *MockClient {
	return &MockClient{
		Archive: make(map[string][]models.Message),
		live:    make(chan models.Message, DefaultLiveBufferSize),
		done:    make(chan struct{}),
	}
}

func (m *MockClient) SendText(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) ForwardMessage(ctx context.Context, to string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForwardErr != nil {
		return m.ForwardErr
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Forwarded: &msg})
	return nil
}

func (m *MockClient) ResolveChatID(to string) (string, error) {
	if to == SelfChat {
		return MockSelfJID, nil
	}
	jid, err := ParseChatJID(to)
	if err != nil {
		return "", err
	}
	return jid.String(), nil
}

func (m *MockClient) History(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.Archive[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (m *MockClient) Chats(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chats := make([]string, 0, len(m.Archive))
	for id := range m.Archive {
		chats = append(chats, id)
	}
	return chats, nil
}

func (m *MockClient) Incoming() <-chan models.Message {
	return m.live
}

func (m *MockClient) Done() <-chan struct{} {
	return m.done
}

// Deliver queues a live message as if it had just arrived.
func (m *MockClient) Deliver(msg models.Message) {
	m.live <- msg
}

// End closes the session.
func (m *MockClient) End() {
	close(m.done)
}
