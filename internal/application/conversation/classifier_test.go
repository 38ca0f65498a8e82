package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		query   string
		trivial bool
	}{
		{"hello", true},
		{"Hello!", true},
		{"  hi there ", true},
		{"Thank you so much.", true},
		{"thanks!", true},
		{"Good morning, Willa", true},
		{"Who are you?", true},
		{"what's your name", true},
		{"bye", true},
		{"hello, who was Clark Kerr?", false},
		{"Tell me about the Free Speech Movement", false},
		{"thanks, what did Savio say on the police car?", false},
		{"who are you interviewing in the Kerr transcript", false},
		{"", false},
		{"?!", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := HeuristicClassifier{}.IsTrivial(context.Background(), tt.query, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.trivial, got)
		})
	}
}
