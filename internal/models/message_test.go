package models

import (
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"valid", Message{ChatID: "1@g.us", MessageID: "A"}, nil},
		{"missing chat", Message{MessageID: "A"}, ErrEmptyChatID},
		{"missing message", Message{ChatID: "1@g.us"}, ErrEmptyMessageID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessageLabels(t *testing.T) {
	m := Message{ChatID: "1@g.us", MessageID: "A"}
	if got := m.OriginRef(); got != "1@g.us:A" {
		t.Errorf("OriginRef() = %q", got)
	}
	if got := m.SourceLabel(); got != "1@g.us" {
		t.Errorf("SourceLabel() without name = %q", got)
	}
	m.ChatName = "Go Jobs"
	if got := m.SourceLabel(); got != "Go Jobs" {
		t.Errorf("SourceLabel() = %q", got)
	}
}

func TestChatFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter ChatFilter
		chat   string
		want   bool
	}{
		{"all", ChatFilter{All: true}, "x", true},
		{"listed", ChatFilter{ChatIDs: []string{"a", "b"}}, "b", true},
		{"unlisted", ChatFilter{ChatIDs: []string{"a"}}, "b", false},
		{"zero value", ChatFilter{}, "a", false},
		{"excluded under all", ChatFilter{All: true, Exclude: []string{"d"}}, "d", false},
		{"excluded from list", ChatFilter{ChatIDs: []string{"d"}, Exclude: []string{"d"}}, "d", false},
		{"exclude leaves others", ChatFilter{All: true, Exclude: []string{"d"}}, "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.chat); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.chat, got, tt.want)
			}
		})
	}
}
