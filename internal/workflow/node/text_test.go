package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"trivial": true}`, `{"trivial": true}`},
		{"fenced", "```json\n{\"trivial\": false}\n```", `{"trivial": false}`},
		{"prose around", `Sure. {"a": {"b": 1}} Done.`, `{"a": {"b": 1}}`},
		{"no object", "  yes  ", "yes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.in))
		})
	}
}

func TestTruncateByRunes(t *testing.T) {
	assert.Equal(t, "", TruncateByRunes("abc", 0))
	assert.Equal(t, "abc", TruncateByRunes("abc", 5))
	assert.Equal(t, "ñá", TruncateByRunes("ñáé", 2))
}
