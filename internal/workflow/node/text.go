package node

import (
	"strings"
)

// TruncateByRunes cuts s to at most maxRunes runes.
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes])
}

// ExtractJSONObject returns the outermost {...} span of s, dropping code
// fences and prose around it. Input without braces comes back trimmed.
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return strings.TrimSpace(raw)
	}
	return raw[start : end+1]
}
