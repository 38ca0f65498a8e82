package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

func turns(pairs ...string) []*entity.ConversationTurn {
	var out []*entity.ConversationTurn
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, &entity.ConversationTurn{Query: pairs[i], Answer: pairs[i+1]})
	}
	return out
}

func TestHistoryWindowRewriter(t *testing.T) {
	w := NewHistoryWindowRewriter(6, 4)
	tests := []struct {
		name    string
		history []*entity.ConversationTurn
		query   string
		want    string
	}{
		{"no history", nil, "Who was Clark Kerr?", "Who was Clark Kerr?"},
		{
			"one prior turn",
			turns("Who was Clark Kerr?", "He was UC president."),
			"When did he leave?",
			"Who was Clark Kerr? He was UC president.\nWhen did he leave?",
		},
		{
			"window keeps the last four prior messages",
			turns("q1", "a1", "q2", "a2", "q3", "a3"),
			"q4",
			"q2 a2 q3 a3\nq4",
		},
		{
			"empty answers are skipped",
			turns("q1", "", "q2", "a2"),
			"q3",
			"q1 q2 a2\nq3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.Rewrite(context.Background(), tt.query, tt.history)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
