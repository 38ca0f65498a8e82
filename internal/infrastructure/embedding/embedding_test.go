package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/config"
)

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (c *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	c.calls = append(c.calls, texts)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(len(texts[i]))}
	}
	return out, nil
}

func TestBatchingEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBatchingEmbedder(inner, 2)

	vecs, err := b.EmbedStrings(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	assert.Len(t, inner.calls, 3)
	assert.Equal(t, [][]float64{{1}, {2}, {3}, {4}, {5}}, vecs)

	inner.err = errors.New("rate limited")
	_, err = b.EmbedStrings(context.Background(), []string{"a", "b", "c"})
	assert.Error(t, err)
}

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(64)
	vecs, err := h.EmbedStrings(context.Background(), []string{
		"Berkeley free speech movement",
		"The Free Speech Movement at Berkeley",
		"quantum chromodynamics lattice",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	for _, v := range vecs {
		assert.Len(t, v, 64)
	}
	assert.InDelta(t, 1.0, dot(vecs[0], vecs[0]), 1e-9)
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))

	again, err := h.EmbedStrings(context.Background(), []string{"Berkeley free speech movement"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0])
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), &config.EmbeddingConfig{Provider: config.EmbeddingHash, Dimension: 8, BatchSize: 4})
	require.NoError(t, err)
	vecs, err := e.EmbedStrings(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], 8)

	_, err = New(context.Background(), &config.EmbeddingConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = New(context.Background(), &config.EmbeddingConfig{Provider: "word2vec"})
	assert.Error(t, err)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
