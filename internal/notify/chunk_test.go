package notify

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"empty", "", 10, nil},
		{"blank", "  \n\n ", 10, nil},
		{"fits", "hello\nworld", 20, []string{"hello\nworld"}},
		{"exact fit", "abcd\nefgh", 9, []string{"abcd\nefgh"}},
		{"split at line", "abcd\nefgh", 8, []string{"abcd", "efgh"}},
		{"greedy", "aa\nbb\ncc\ndd", 5, []string{"aa\nbb", "cc\ndd"}},
		{"oversized line kept whole", "short\n" + strings.Repeat("x", 12) + "\nend", 8,
			[]string{"short", strings.Repeat("x", 12), "end"}},
		{"trims chunk edges", "  a  \n\n\nb", 4, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.limit)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Chunk(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}

func TestChunk_Properties(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString(strings.Repeat("word ", i%37))
		b.WriteString("é\n")
		if i%50 == 0 {
			b.WriteString(strings.Repeat("L", 300))
			b.WriteString("\n")
		}
	}
	text := b.String()
	limit := 200

	chunks := Chunk(text, limit)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	originalLines := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		originalLines[strings.TrimSpace(line)] = true
	}

	for i, c := range chunks {
		n := utf8.RuneCountInString(c)
		if n > limit {
			// only a single original line may overshoot
			if strings.Contains(c, "\n") || !originalLines[c] {
				t.Errorf("chunk %d has %d chars and is not a single line", i, n)
			}
		}
	}

	normalize := func(s string) string {
		var lines []string
		for _, l := range strings.Split(s, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		return strings.Join(lines, "\n")
	}
	if got, want := normalize(strings.Join(chunks, "\n")), normalize(text); got != want {
		t.Error("rejoined chunks differ from the original beyond whitespace")
	}

	if again := Chunk(text, limit); !reflect.DeepEqual(again, chunks) {
		t.Error("Chunk is not deterministic")
	}
}

func TestChunk_DefaultLimit(t *testing.T) {
	text := strings.Repeat(strings.Repeat("y", 99)+"\n", 1000) // 100000 chars
	chunks := Chunk(text, 0)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > DefaultMessageLimit {
			t.Errorf("chunk length %d exceeds %d", len(c), DefaultMessageLimit)
		}
	}
}
