package session_test

import (
	"testing"

	"github.com/MrWong99/mouthpiece/internal/session"
)

func TestExitMatcher(t *testing.T) {
	t.Parallel()

	exact := session.NewExitMatcher(session.DefaultExitWords, false)
	phonetic := session.NewExitMatcher(session.DefaultExitWords, true)

	tests := []struct {
		text         string
		wantExact    bool
		wantPhonetic bool
	}{
		{"bye", true, true},
		{"Goodbye.", true, true},
		{"  STOP! ", true, true},
		{"quit", true, true},
		{"by", false, true},
		{"buy", false, true},
		{"bye for now", false, false},
		{"please stop talking", false, false},
		{"hello", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := exact.Match(tt.text); got != tt.wantExact {
			t.Errorf("exact.Match(%q) = %v, want %v", tt.text, got, tt.wantExact)
		}
		if got := phonetic.Match(tt.text); got != tt.wantPhonetic {
			t.Errorf("phonetic.Match(%q) = %v, want %v", tt.text, got, tt.wantPhonetic)
		}
	}
}

func TestExitMatcher_CustomWords(t *testing.T) {
	t.Parallel()

	m := session.NewExitMatcher([]string{"That's all", "ciao"}, false)
	if !m.Match("that's all") || !m.Match("Ciao!") {
		t.Error("custom words should match")
	}
	if m.Match("bye") {
		t.Error("default words must not match when custom words are set")
	}
}
