package ingest

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	vocab := []string{"regents", "campus", "sproul", "interview", "berkeley", "oral", "history", "kerr"}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = vocab[i%len(vocab)]
	}
	return strings.Join(parts, " ")
}

func TestSplit_Properties(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap float64
	}{
		{name: "defaults", text: words(600), size: 0, overlap: 0.2},
		{name: "small windows", text: words(200), size: 60, overlap: 0.2},
		{name: "no overlap", text: words(200), size: 80, overlap: 0},
		{name: "max overlap", text: words(200), size: 80, overlap: 0.9},
		{name: "multibyte", text: strings.Repeat("Überraschung für José – ", 40), size: 80, overlap: 0.25},
		{name: "newlines", text: strings.Repeat("Q: where were you?\nA: on campus.\n", 30), size: 70, overlap: 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.TrimSpace(tt.text)
			runes := []rune(text)
			size := tt.size
			if size <= 0 {
				size = defaultChunkSize
			}

			ws := Split(text, tt.size, tt.overlap)
			require.NotEmpty(t, ws)

			covered := make([]bool, len(runes))
			prevStart := -1
			for _, w := range ws {
				assert.Equal(t, string(runes[w.Start:w.End]), w.Text)
				assert.LessOrEqual(t, w.End-w.Start, size)
				assert.Greater(t, w.Start, prevStart, "starts must increase")
				prevStart = w.Start

				assert.False(t, unicode.IsSpace(runes[w.Start]))
				assert.False(t, unicode.IsSpace(runes[w.End-1]))
				if w.Start > 0 {
					assert.True(t, unicode.IsSpace(runes[w.Start-1]), "window starts mid-word at %d", w.Start)
				}
				if w.End < len(runes) {
					assert.True(t, unicode.IsSpace(runes[w.End]), "window ends mid-word at %d", w.End)
				}
				for i := w.Start; i < w.End; i++ {
					covered[i] = true
				}
			}
			for i, r := range runes {
				if !unicode.IsSpace(r) {
					require.True(t, covered[i], "rune %d not covered", i)
				}
			}
			assert.Equal(t, len(runes), ws[len(ws)-1].End)
		})
	}
}

func TestSplit_Overlap(t *testing.T) {
	ws := Split(words(100), 100, 0.2)
	require.Greater(t, len(ws), 2)
	for i := 1; i < len(ws); i++ {
		assert.Less(t, ws[i].Start, ws[i-1].End, "window %d does not overlap its predecessor", i)
	}

	ws = Split(words(100), 100, 0)
	for i := 1; i < len(ws); i++ {
		assert.GreaterOrEqual(t, ws[i].Start, ws[i-1].End)
	}
}

func TestSplit_LongWordIsCut(t *testing.T) {
	text := strings.Repeat("x", 250)
	ws := Split(text, 100, 0.2)
	require.Len(t, ws, 3)
	assert.Equal(t, 0, ws[0].Start)
	assert.Equal(t, 100, ws[0].End)
	assert.Equal(t, 250, ws[len(ws)-1].End)
}

func TestSplit_Edges(t *testing.T) {
	assert.Empty(t, Split("", 100, 0.2))
	assert.Empty(t, Split("   \n ", 100, 0.2))

	ws := Split("short text", 100, 0.2)
	require.Len(t, ws, 1)
	assert.Equal(t, Window{Text: "short text", Start: 0, End: 10}, ws[0])

	ws = Split("ab cd ef", 1, 0.5)
	require.NotEmpty(t, ws)
	assert.Equal(t, 8, ws[len(ws)-1].End)
}
