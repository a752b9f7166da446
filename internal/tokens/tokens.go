// Package tokens estimates token counts for the input budget. It uses the
// cl100k_base encoding from tiktoken-go and falls back to a character
// heuristic when the encoding cannot be loaded (it is fetched on first use).
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hochfrequenz/issue-digest/internal/log"
)

// Encoding is the tiktoken encoding used for estimates
const Encoding = "cl100k_base"

// Counter counts tokens in a text
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter
type CounterFunc func(text string) int

// Count implements Counter
func (f CounterFunc) Count(text string) int { return f(text) }

// Tiktoken counts with the cl100k_base encoding
type Tiktoken struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktoken creates a lazily initialized tiktoken counter
func NewTiktoken() *Tiktoken {
	return &Tiktoken{}
}

// Err returns the initialization error, if the heuristic is in use.
func (t *Tiktoken) Err() error {
	t.init()
	return t.err
}

func (t *Tiktoken) init() {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(Encoding)
		if t.err != nil {
			log.Warn("tiktoken unavailable, estimating tokens", "encoding", Encoding, "err", t.err)
		}
	})
}

// Count implements Counter
func (t *Tiktoken) Count(text string) int {
	t.init()
	if t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Estimate returns max(runes/4, words), at least 1 for non-blank text.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
