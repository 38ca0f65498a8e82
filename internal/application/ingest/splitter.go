package ingest

import "unicode"

const (
	defaultChunkSize       = 1000
	defaultOverlapFraction = 0.2
	maxOverlapFraction     = 0.5
	// A window end may move back by at most this share of the window to land on whitespace.
	snapFraction = 0.2
)

// Window is a span of normalized text. Start and End are rune offsets.
type Window struct {
	Text  string
	Start int
	End   int
}

// Split cuts text into overlapping windows of at most size runes. Window ends
// are moved back to whitespace when there is some in the last fifth of the
// window, and the next window starts at a word boundary, so words are only cut
// when a single word is longer than that. Windows are trimmed; their offsets
// follow the trimmed text.
func Split(text string, size int, overlapFraction float64) []Window {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlapFraction < 0 {
		overlapFraction = 0
	}
	if overlapFraction > maxOverlapFraction {
		overlapFraction = maxOverlapFraction
	}
	overlap := int(overlapFraction * float64(size))

	runes := []rune(text)
	n := len(runes)
	var out []Window

	start := skipSpace(runes, 0)
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = snapBack(runes, start, end, size)
		}

		s, e := start, end
		for s < e && unicode.IsSpace(runes[s]) {
			s++
		}
		for e > s && unicode.IsSpace(runes[e-1]) {
			e--
		}
		if s < e {
			out = append(out, Window{Text: string(runes[s:e]), Start: s, End: e})
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		for next < end && next > 0 && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = skipSpace(runes, next)
	}
	return out
}

// snapBack returns the last whitespace position in the final snapFraction of
// [start, end), or end when there is none.
func snapBack(runes []rune, start, end, size int) int {
	min := start + size - int(snapFraction*float64(size))
	if min <= start {
		min = start + 1
	}
	for j := end; j >= min; j-- {
		if unicode.IsSpace(runes[j]) {
			return j
		}
	}
	return end
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}
