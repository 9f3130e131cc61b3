package messaging

import (
	"context"
	"iter"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// MockDestination records outbound actions instead of sending them (for tests).
type MockDestination struct {
	mu         sync.Mutex
	ForwardErr error // returned by every Forward call when set
	SendErr    error // returned by every SendText call when set
	// BeforeSend runs at the start of every Forward and SendText call.
	BeforeSend func()
	Forwarded  []models.Message
	Texts      []string
}

func NewMockDestination() *MockDestination {
	return &MockDestination{}
}

func (m *MockDestination) Forward(ctx context.Context, msg models.Message) error {
	if m.BeforeSend != nil {
		m.BeforeSend()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForwardErr != nil {
		return m.ForwardErr
	}
	m.Forwarded = append(m.Forwarded, msg)
	return nil
}

func (m *MockDestination) SendText(ctx context.Context, text string) error {
	if m.BeforeSend != nil {
		m.BeforeSend()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Texts = append(m.Texts, text)
	return nil
}

// Actions returns the number of successful outbound actions.
func (m *MockDestination) Actions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Forwarded) + len(m.Texts)
}

// MockSource serves canned history and a test-controlled live channel.
type MockSource struct {
	// History maps chat id to messages, newest first.
	History map[string][]models.Message
	// Failures maps chat id to an error raised after FailAfter[chat] messages.
	Failures  map[string]error
	FailAfter map[string]int
	// DialogIDs is returned by Dialogs.
	DialogIDs []string
	// Live feeds Subscribe. Tests close it to end the subscription.
	Live chan models.Message

	mu         sync.Mutex
	subscribed bool
	filter     models.ChatFilter
}

func NewMockSource() *MockSource {
	return &MockSource{
		History:   make(map[string][]models.Message),
		Failures:  make(map[string]error),
		FailAfter: make(map[string]int),
		Live:      make(chan models.Message, DefaultChannelBufferSize),
	}
}

func (m *MockSource) Messages(ctx context.Context, chatID string, limit int) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		msgs := m.History[chatID]
		failErr, fails := m.Failures[chatID]
		failAfter := m.FailAfter[chatID]
		for i, msg := range msgs {
			if fails && i == failAfter {
				yield(models.Message{}, failErr)
				return
			}
			if limit > 0 && i >= limit {
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
		if fails && failAfter >= len(msgs) {
			yield(models.Message{}, failErr)
		}
	}
}

func (m *MockSource) Dialogs(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, id := range m.DialogIDs {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (m *MockSource) Subscribe(ctx context.Context, filter models.ChatFilter) (<-chan models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed {
		return nil, ErrAlreadySubscribed
	}
	m.subscribed = true
	m.filter = filter
	return m.Live, nil
}

// Subscribed reports whether Subscribe has been called.
func (m *MockSource) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed
}
