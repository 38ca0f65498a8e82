package retrieval

import (
	"context"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

const (
	defaultHistoryMessages = 6
	defaultMaxPrior        = 4
)

// QueryRewriter turns the user query plus recent history into the text that
// is embedded for search.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string, history []*entity.ConversationTurn) (string, error)
}

// HistoryWindowRewriter prefixes the query with the most recent messages of
// the conversation. It looks at the last Messages messages (the current query
// included) and keeps at most MaxPrior earlier contents, joined by a space.
type HistoryWindowRewriter struct {
	Messages int
	MaxPrior int
}

var _ QueryRewriter = HistoryWindowRewriter{}

func NewHistoryWindowRewriter(messages, maxPrior int) HistoryWindowRewriter {
	if messages <= 0 {
		messages = defaultHistoryMessages
	}
	if maxPrior <= 0 {
		maxPrior = defaultMaxPrior
	}
	return HistoryWindowRewriter{Messages: messages, MaxPrior: maxPrior}
}

func (w HistoryWindowRewriter) Rewrite(_ context.Context, query string, history []*entity.ConversationTurn) (string, error) {
	query = strings.TrimSpace(query)
	messages := HistoryMessages(history)
	messages = append(messages, query)

	window := w.Messages
	if window <= 0 {
		window = defaultHistoryMessages
	}
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}
	if len(messages) <= 2 {
		return query, nil
	}

	prior := make([]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		if m = strings.TrimSpace(m); m != "" {
			prior = append(prior, m)
		}
	}
	maxPrior := w.MaxPrior
	if maxPrior <= 0 {
		maxPrior = defaultMaxPrior
	}
	if len(prior) > maxPrior {
		prior = prior[len(prior)-maxPrior:]
	}
	if len(prior) == 0 {
		return query, nil
	}
	return strings.Join(prior, " ") + "\n" + query, nil
}

// HistoryMessages flattens turns into alternating query and answer messages.
func HistoryMessages(history []*entity.ConversationTurn) []string {
	out := make([]string, 0, 2*len(history))
	for _, t := range history {
		if t == nil {
			continue
		}
		out = append(out, t.Query, t.Answer)
	}
	return out
}
