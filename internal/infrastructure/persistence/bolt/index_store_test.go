package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval/storetest"
	"github.com/BerkeleyLibrary/willa/internal/config"
)

func openTemp(t *testing.T, path string) *IndexStore {
	t.Helper()
	s, err := Open(&config.BoltConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIndexStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) retrieval.IndexStore {
		return openTemp(t, filepath.Join(t.TempDir(), "index.db"))
	})
}

func TestIndexStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.db")

	s, err := Open(&config.BoltConfig{Path: path})
	require.NoError(t, err)
	_, err = s.UpsertDocument(ctx, "103806", "abc", storetest.Chunks("103806", 3, 0, 4))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTemp(t, path)
	hash, ok, err := s.DocumentHash(ctx, "103806")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", hash)

	chunks, err := s.DocumentChunks(ctx, "103806")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []float32{0, 1, 0, 0}, chunks[1].Embedding)
	assert.Equal(t, "Title of 103806", chunks[1].Metadata.Title)
}

func TestChunkCodec(t *testing.T) {
	c := storetest.Chunks("d", 1, 2, 5)[0]
	raw, err := encodeChunk(c)
	require.NoError(t, err)

	got, err := decodeChunk(raw)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = decodeChunk(raw[:3])
	assert.ErrorIs(t, err, errCorruptChunk)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(&config.BoltConfig{})
	assert.Error(t, err)
}
