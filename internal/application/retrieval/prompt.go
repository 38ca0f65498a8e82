package retrieval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// NoDocumentsContext replaces the context block when retrieval found nothing.
const NoDocumentsContext = "No supporting documents were found in the archive for this question."

const defaultMaxContextRunes = 12000

// BuildPromptContext renders candidates as context blocks, each headed by its
// [doc:<id>] marker. Output stops before maxRunes is exceeded; the first block
// is always included, truncated if needed.
func BuildPromptContext(cands []entity.RetrievalCandidate, maxRunes int) string {
	if len(cands) == 0 {
		return NoDocumentsContext
	}
	if maxRunes <= 0 {
		maxRunes = defaultMaxContextRunes
	}

	blocks := make([]string, 0, len(cands))
	used := 0
	for _, c := range cands {
		txt := compactOneLine(c.Chunk.Text)
		if txt == "" {
			continue
		}
		header := Marker(c.Chunk.DocumentID)
		if t := strings.TrimSpace(c.Chunk.Metadata.Title); t != "" {
			header += " " + t
		}
		block := header + "\n" + txt

		n := len([]rune(block))
		if used+n > maxRunes {
			if len(blocks) > 0 {
				break
			}
			block = truncateRunes(block, maxRunes)
			n = maxRunes
		}
		blocks = append(blocks, block)
		used += n
	}
	if len(blocks) == 0 {
		return NoDocumentsContext
	}
	return strings.Join(blocks, "\n\n")
}

// Marker is the inline reference token for a document.
func Marker(documentID string) string {
	return fmt.Sprintf("[doc:%s]", documentID)
}

var markerPattern = regexp.MustCompile(`\[doc:\s*([^\]\s]+)\s*\]`)

// ExtractMarkers returns the document ids referenced in text, deduplicated in
// first-occurrence order.
func ExtractMarkers(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

var spaceBeforePunct = regexp.MustCompile(`[ \t]+([.,;:!?])`)

// StripMarkers removes [doc:<id>] tokens and the whitespace they leave behind.
func StripMarkers(text string) string {
	out := markerPattern.ReplaceAllString(text, "")
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func compactOneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}
