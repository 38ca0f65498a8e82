package node

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	wfmodel "github.com/BerkeleyLibrary/willa/internal/workflow/model"
)

// HistoryMessages turns earlier exchanges into alternating user and assistant
// messages. Each message is capped at maxRunes; empty sides are skipped.
func HistoryMessages(history []wfmodel.Exchange, maxRunes int) []*schema.Message {
	out := make([]*schema.Message, 0, 2*len(history))
	for _, h := range history {
		if q := strings.TrimSpace(h.Query); q != "" {
			out = append(out, schema.UserMessage(TruncateByRunes(q, maxRunes)))
		}
		if a := strings.TrimSpace(h.Answer); a != "" {
			out = append(out, schema.AssistantMessage(TruncateByRunes(a, maxRunes), nil))
		}
	}
	return out
}

// BuildHistoryBlock renders exchanges as plain "User:"/"Assistant:" lines for
// prompts that take the conversation as text.
func BuildHistoryBlock(history []wfmodel.Exchange, maxRunes int) string {
	if len(history) == 0 {
		return "(no earlier messages)"
	}
	lines := make([]string, 0, 2*len(history))
	for _, h := range history {
		if q := strings.TrimSpace(h.Query); q != "" {
			lines = append(lines, "User: "+TruncateByRunes(q, maxRunes))
		}
		if a := strings.TrimSpace(h.Answer); a != "" {
			lines = append(lines, "Assistant: "+TruncateByRunes(a, maxRunes))
		}
	}
	if len(lines) == 0 {
		return "(no earlier messages)"
	}
	return strings.Join(lines, "\n")
}
