package session

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultExitWords end a session when spoken as the whole utterance.
var DefaultExitWords = []string{"exit", "quit", "bye", "goodbye", "stop"}

// ExitMatcher recognises utterances that end the session.
type ExitMatcher struct {
	words map[string]bool
	codes map[string]bool
}

// NewExitMatcher builds a matcher for words. With phonetic set, a one-word
// utterance that sounds like an exit word also matches, so a recognizer
// hearing "by" still ends the session.
func NewExitMatcher(words []string, phonetic bool) *ExitMatcher {
	m := &ExitMatcher{words: make(map[string]bool, len(words))}
	if phonetic {
		m.codes = make(map[string]bool, len(words))
	}
	for _, w := range words {
		w = normalizeExit(w)
		if w == "" {
			continue
		}
		m.words[w] = true
		if phonetic && !strings.Contains(w, " ") {
			if p, _ := matchr.DoubleMetaphone(w); p != "" {
				m.codes[p] = true
			}
		}
	}
	return m
}

// Match reports whether text is an exit utterance. Case and surrounding
// punctuation are ignored.
func (m *ExitMatcher) Match(text string) bool {
	t := normalizeExit(text)
	if t == "" {
		return false
	}
	if m.words[t] {
		return true
	}
	if m.codes == nil || strings.Contains(t, " ") {
		return false
	}
	p, _ := matchr.DoubleMetaphone(t)
	return p != "" && m.codes[p]
}

func normalizeExit(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), " .,!?;:\"'")
}
