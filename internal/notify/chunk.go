package notify

import (
	"strings"
	"unicode/utf8"
)

// DefaultMessageLimit is the per-message character ceiling of chat.postMessage.
const DefaultMessageLimit = 40000

// Chunk splits text into pieces of at most limit characters without breaking
// lines. Lines are accumulated greedily; a chunk is flushed when the next line
// (plus its newline) would not fit. A single line longer than limit is emitted
// as its own, oversized chunk. Chunks are trimmed and blank chunks dropped.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	started := false

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentLen = 0
		started = false
	}

	for _, line := range strings.Split(text, "\n") {
		lineLen := utf8.RuneCountInString(line)
		if started && currentLen+1+lineLen > limit {
			flush()
		}
		if started {
			current.WriteByte('\n')
			currentLen++
		}
		current.WriteString(line)
		currentLen += lineLen
		started = true
	}
	flush()

	return chunks
}
