// Package storetest is a conformance suite every retrieval.IndexStore adapter runs.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) retrieval.IndexStore

// Chunks builds n chunks for doc. Chunk i points along axis (seed+i) % dim.
func Chunks(doc string, n, seed, dim int) []entity.Chunk {
	out := make([]entity.Chunk, n)
	for i := range out {
		vec := make([]float32, dim)
		vec[(seed+i)%dim] = 1
		out[i] = entity.Chunk{
			DocumentID:  doc,
			Ordinal:     i,
			Text:        fmt.Sprintf("%s chunk %d seed %d", doc, i, seed),
			StartOffset: i * 10,
			EndOffset:   i*10 + 9,
			Embedding:   vec,
			Metadata: entity.Metadata{
				DocumentID: doc,
				Title:      "Title of " + doc,
				Contributors: []entity.Contributor{
					{Name: "A", Role: entity.RoleInterviewer},
					{Name: "B", Role: entity.RoleInterviewee},
				},
				ProjectName: "Project",
				CatalogLink: "https://example.org/record/" + doc,
			},
		}
	}
	return out
}

// Axis returns a unit query vector along axis i.
func Axis(i, dim int) []float32 {
	v := make([]float32, dim)
	v[i%dim] = 1
	return v
}

func ids(chunks []entity.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID()
	}
	return out
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()
	const dim = 8

	t.Run("empty search", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Search(ctx, Axis(0, dim), 5)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("upsert then search", func(t *testing.T) {
		s := newStore(t)
		replaced, err := s.UpsertDocument(ctx, "a", "h1", Chunks("a", 3, 0, dim))
		require.NoError(t, err)
		assert.False(t, replaced)

		got, err := s.Search(ctx, Axis(1, dim), 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a#1", got[0].Chunk.ID())
		assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
		assert.Equal(t, 0, got[0].SimilarityRank)
		assert.Equal(t, 1, got[1].SimilarityRank)
		assert.GreaterOrEqual(t, got[0].Similarity, got[1].Similarity)
		assert.Equal(t, "Title of a", got[0].Chunk.Metadata.Title)
		assert.Equal(t, "h1", got[0].Chunk.ContentHash)

		ok, err := s.Exists(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		hash, ok, err := s.DocumentHash(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "h1", hash)
	})

	t.Run("replace leaves no stale chunks and other documents untouched", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertDocument(ctx, "a", "h1", Chunks("a", 5, 0, dim))
		require.NoError(t, err)
		_, err = s.UpsertDocument(ctx, "b", "hb", Chunks("b", 2, 3, dim))
		require.NoError(t, err)
		before, err := s.DocumentChunks(ctx, "b")
		require.NoError(t, err)

		replaced, err := s.UpsertDocument(ctx, "a", "h2", Chunks("a", 2, 4, dim))
		require.NoError(t, err)
		assert.True(t, replaced)

		chunks, err := s.DocumentChunks(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a#0", "a#1"}, ids(chunks))
		for _, c := range chunks {
			assert.Equal(t, "h2", c.ContentHash)
		}

		after, err := s.DocumentChunks(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, before, after)

		got, err := s.Search(ctx, Axis(0, dim), 100)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertDocument(ctx, "a", "h1", Chunks("a", 2, 0, dim))
		require.NoError(t, err)

		existed, err := s.DeleteDocument(ctx, "a")
		require.NoError(t, err)
		assert.True(t, existed)
		existed, err = s.DeleteDocument(ctx, "a")
		require.NoError(t, err)
		assert.False(t, existed)

		ok, err := s.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = s.DocumentHash(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
		got, err := s.Search(ctx, Axis(0, dim), 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("rejects invalid chunk sets", func(t *testing.T) {
		s := newStore(t)
		bad := Chunks("a", 3, 0, dim)
		bad[2].Ordinal = 5
		_, err := s.UpsertDocument(ctx, "a", "h", bad)
		assert.ErrorIs(t, err, retrieval.ErrInvalidChunks)

		ok, err := s.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ties are ordered by document and ordinal", func(t *testing.T) {
		s := newStore(t)
		same := func(doc string) []entity.Chunk {
			c := Chunks(doc, 2, 0, dim)
			for i := range c {
				c[i].Embedding = Axis(0, dim)
			}
			return c
		}
		_, err := s.UpsertDocument(ctx, "b", "h", same("b"))
		require.NoError(t, err)
		_, err = s.UpsertDocument(ctx, "a", "h", same("a"))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			got, err := s.Search(ctx, Axis(0, dim), 4)
			require.NoError(t, err)
			gotIDs := make([]string, len(got))
			for j, c := range got {
				gotIDs[j] = c.Chunk.ID()
			}
			assert.Equal(t, []string{"a#0", "a#1", "b#0", "b#1"}, gotIDs)
		}
	})

	t.Run("readers never see mixed generations", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertDocument(ctx, "a", "h0", Chunks("a", 4, 0, dim))
		require.NoError(t, err)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		errs := make(chan error, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Search(ctx, Axis(0, dim), 100)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
				gens := make(map[int64]bool)
				for _, c := range got {
					gens[c.Chunk.Generation] = true
				}
				if len(gens) > 1 {
					select {
					case errs <- fmt.Errorf("search saw %d generations of one document", len(gens)):
					default:
					}
					return
				}
			}
		}()

		for i := 1; i <= 20; i++ {
			_, err := s.UpsertDocument(ctx, "a", fmt.Sprintf("h%d", i), Chunks("a", 2+i%3, i, dim))
			require.NoError(t, err)
		}
		close(stop)
		wg.Wait()
		select {
		case err := <-errs:
			t.Fatal(err)
		default:
		}
	})

	t.Run("concurrent documents", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for _, doc := range []string{"a", "b", "c"} {
			wg.Add(1)
			go func(doc string) {
				defer wg.Done()
				_, err := s.UpsertDocument(ctx, doc, "h-"+doc, Chunks(doc, 6, 0, dim))
				assert.NoError(t, err)
			}(doc)
		}
		wg.Wait()

		for _, doc := range []string{"a", "b", "c"} {
			chunks, err := s.DocumentChunks(ctx, doc)
			require.NoError(t, err)
			assert.Equal(t, ids(Chunks(doc, 6, 0, dim)), ids(chunks))
		}
	})
}
