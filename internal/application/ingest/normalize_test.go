package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "crlf", in: "line one\r\nline two\rline three", want: "line one\nline two\nline three"},
		{name: "trim", in: "  \n\ttext\n\n ", want: "text"},
		{
			name: "copyright footer",
			in:   "before Copyright © 2019 by The Regents of the University of California after",
			want: "before after",
		},
		{
			name: "running footer",
			in:   "page one Oral History Center, The Bancroft Library, University of California, Berkeley page two",
			want: "page one page two",
		},
		{name: "invalid utf8", in: "caf\xc3 au lait", want: "caf au lait"},
		{name: "only footer", in: "Copyright © 2021 by The Regents of the University of California", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize([]byte(tt.in)))
		})
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash(Normalize([]byte("hello\r\nworld")))
	b := ContentHash(Normalize([]byte("hello\nworld\n")))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, ContentHash("hello world"))
}
