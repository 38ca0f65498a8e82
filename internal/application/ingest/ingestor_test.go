package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	embed "github.com/BerkeleyLibrary/willa/internal/infrastructure/embedding"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/memory"
)

// failingEmbedder fails the first `failures` calls, or every call when failures < 0.
type failingEmbedder struct {
	inner    embedding.Embedder
	failures int32
	calls    atomic.Int32
}

func (f *failingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	n := f.calls.Add(1)
	if f.failures < 0 || n <= f.failures {
		return nil, errors.New("embedding endpoint returned 500")
	}
	return f.inner.EmbedStrings(ctx, texts, opts...)
}

func metadataFor(id string) *entity.Metadata {
	return &entity.Metadata{
		DocumentID: id,
		Title:      "Interview with " + id,
		Contributors: []entity.Contributor{
			{Name: "Rubens, Lisa", Role: entity.RoleInterviewer},
			{Name: id, Role: entity.RoleInterviewee},
		},
		ProjectName: "Free Speech Movement",
		CatalogLink: "https://digicoll.lib.berkeley.edu/record/" + id,
	}
}

func okResolver() catalog.Resolver {
	return catalog.ResolverFunc(func(_ context.Context, id string) (*entity.Metadata, error) {
		return metadataFor(id), nil
	})
}

func transcript(words int, seed string) []byte {
	var b strings.Builder
	for i := 0; i < words; i++ {
		fmt.Fprintf(&b, "%s%d ", seed, i%37)
		if i%50 == 49 {
			b.WriteString("\r\nCopyright © 2020 by The Regents of the University of California\r\n")
		}
	}
	return []byte(b.String())
}

func newIngestor(e embedding.Embedder, store retrieval.IndexStore, r catalog.Resolver) *ingest.Ingestor {
	return ingest.New(e, store, r,
		ingest.WithChunking(200, 0.2),
		ingest.WithEmbedding(3, 4),
		ingest.WithRetryBackoff(0),
	)
}

func TestIngest_WritesChunks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIndexStore()
	e := embed.NewHashEmbedder(64)
	ing := newIngestor(e, store, okResolver())

	res, err := ing.Ingest(ctx, "ohc-1", transcript(400, "kerr"))
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.False(t, res.Skipped)
	assert.Greater(t, res.ChunksWritten, 5)

	chunks, err := store.DocumentChunks(ctx, "ohc-1")
	require.NoError(t, err)
	require.Len(t, chunks, res.ChunksWritten)

	normalized := ingest.Normalize(transcript(400, "kerr"))
	runes := []rune(normalized)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "ohc-1", c.DocumentID)
		assert.Equal(t, res.ContentHash, c.ContentHash)
		assert.Equal(t, string(runes[c.StartOffset:c.EndOffset]), c.Text)
		assert.NotContains(t, c.Text, "Copyright")
		assert.Equal(t, "Interview with ohc-1", c.Metadata.Title)
		assert.Equal(t, []string{"Rubens, Lisa"}, c.Metadata.Interviewers())

		// Batches run concurrently but each vector lands on its own chunk.
		want, err := retrieval.EmbedTexts(ctx, e, []string{ingest.EmbeddingText(c.Metadata.Title, c.Text)})
		require.NoError(t, err)
		assert.Equal(t, want[0], c.Embedding)
	}
}

func TestIngest_Reingest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIndexStore()
	e := &failingEmbedder{inner: embed.NewHashEmbedder(64)}
	ing := newIngestor(e, store, okResolver())

	first, err := ing.Ingest(ctx, "doc", transcript(300, "a"))
	require.NoError(t, err)

	t.Run("unchanged content is skipped", func(t *testing.T) {
		calls := e.calls.Load()
		res, err := ing.Ingest(ctx, "doc", transcript(300, "a"))
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Zero(t, res.ChunksWritten)
		assert.Equal(t, first.ContentHash, res.ContentHash)
		assert.Equal(t, calls, e.calls.Load(), "skip must not embed")
	})

	t.Run("force re-ingests", func(t *testing.T) {
		res, err := ing.Ingest(ctx, "doc", transcript(300, "a"), ingest.WithForce())
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.True(t, res.Replaced)
		assert.Equal(t, first.ChunksWritten, res.ChunksWritten)
	})

	t.Run("changed content replaces every chunk", func(t *testing.T) {
		res, err := ing.Ingest(ctx, "doc", transcript(60, "b"))
		require.NoError(t, err)
		assert.True(t, res.Replaced)
		assert.Less(t, res.ChunksWritten, first.ChunksWritten)

		chunks, err := store.DocumentChunks(ctx, "doc")
		require.NoError(t, err)
		require.Len(t, chunks, res.ChunksWritten)
		for _, c := range chunks {
			assert.Equal(t, res.ContentHash, c.ContentHash)
			assert.NotContains(t, c.Text, "a1")
		}
	})
}

func TestIngest_FailuresWriteNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		embedder func() embedding.Embedder
		resolver catalog.Resolver
		content  []byte
		wantErr  error
	}{
		{
			name:     "metadata not found",
			embedder: func() embedding.Embedder { return embed.NewHashEmbedder(32) },
			resolver: catalog.ResolverFunc(func(context.Context, string) (*entity.Metadata, error) {
				return nil, fmt.Errorf("%w: record 42", catalog.ErrNotFound)
			}),
			content: transcript(100, "x"),
			wantErr: catalog.ErrNotFound,
		},
		{
			name:     "embedding fails after retry",
			embedder: func() embedding.Embedder { return &failingEmbedder{inner: embed.NewHashEmbedder(32), failures: -1} },
			resolver: okResolver(),
			content:  transcript(100, "x"),
			wantErr:  ingest.ErrEmbeddingFailure,
		},
		{
			name:     "empty after normalization",
			embedder: func() embedding.Embedder { return embed.NewHashEmbedder(32) },
			resolver: okResolver(),
			content:  []byte(" \r\nCopyright © 2018 by The Regents of the University of California \r\n"),
			wantErr:  ingest.ErrEmptyDocument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewIndexStore()
			_, err := newIngestor(tt.embedder(), store, tt.resolver).Ingest(ctx, "doc", tt.content)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, store.Len())
		})
	}
}

func TestIngest_EmbeddingRetrySucceeds(t *testing.T) {
	store := memory.NewIndexStore()
	e := &failingEmbedder{inner: embed.NewHashEmbedder(32), failures: 1}
	ing := ingest.New(e, store, okResolver(), ingest.WithEmbedding(100, 1), ingest.WithRetryBackoff(0))

	res, err := ing.Ingest(context.Background(), "doc", transcript(50, "w"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksWritten)
	assert.Equal(t, int32(2), e.calls.Load())
}

func TestIngest_FailedReplaceKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIndexStore()
	good := newIngestor(embed.NewHashEmbedder(32), store, okResolver())
	first, err := good.Ingest(ctx, "doc", transcript(200, "old"))
	require.NoError(t, err)

	bad := newIngestor(&failingEmbedder{inner: embed.NewHashEmbedder(32), failures: -1}, store, okResolver())
	_, err = bad.Ingest(ctx, "doc", transcript(200, "new"))
	require.ErrorIs(t, err, ingest.ErrEmbeddingFailure)

	hash, ok, err := store.DocumentHash(ctx, "doc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ContentHash, hash)
}

func TestIngest_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := memory.NewIndexStore()

	_, err := newIngestor(embed.NewHashEmbedder(32), store, okResolver()).Ingest(ctx, "doc", transcript(100, "c"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Len())
}

func TestIngest_ConcurrentDocuments(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIndexStore()
	ing := newIngestor(embed.NewHashEmbedder(32), store, okResolver())

	var wg sync.WaitGroup
	results := make([]*ingest.IngestResult, 2)
	errs := make([]error, 2)
	for i, id := range []string{"A", "B"} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = ing.Ingest(ctx, id, transcript(250, id))
		}()
	}
	wg.Wait()

	for i, id := range []string{"A", "B"} {
		require.NoError(t, errs[i])
		chunks, err := store.DocumentChunks(ctx, id)
		require.NoError(t, err)
		assert.Len(t, chunks, results[i].ChunksWritten)
		for _, c := range chunks {
			assert.Equal(t, id, c.DocumentID)
		}
	}
}

func TestIngest_SameDocumentConcurrently(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIndexStore()
	ing := newIngestor(embed.NewHashEmbedder(32), store, okResolver())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ing.Ingest(ctx, "doc", transcript(150, "same"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chunks, err := store.DocumentChunks(ctx, "doc")
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIndexStore()
	ing := newIngestor(embed.NewHashEmbedder(32), store, okResolver())
	_, err := ing.Ingest(ctx, "doc", transcript(100, "d"))
	require.NoError(t, err)

	existed, err := ing.Delete(ctx, "doc")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = ing.Delete(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Zero(t, store.Len())
}

type invalidatingResolver struct {
	catalog.Resolver
	invalidated []string
}

func (r *invalidatingResolver) Invalidate(_ context.Context, documentID string) error {
	r.invalidated = append(r.invalidated, documentID)
	return nil
}

func TestIngest_ForceInvalidatesMetadata(t *testing.T) {
	ctx := context.Background()
	r := &invalidatingResolver{Resolver: okResolver()}
	ing := newIngestor(embed.NewHashEmbedder(64), memory.NewIndexStore(), r)

	_, err := ing.Ingest(ctx, "doc", transcript(120, "a"))
	require.NoError(t, err)
	assert.Empty(t, r.invalidated)

	_, err = ing.Ingest(ctx, "doc", transcript(120, "a"), ingest.WithForce())
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, r.invalidated)
}

// gatedEmbedder blocks every call until release is closed or ctx ends.
type gatedEmbedder struct {
	inner   embedding.Embedder
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		inner:   embed.NewHashEmbedder(32),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.EmbedStrings(ctx, texts, opts...)
}

func TestIngest_SharedRunCancellation(t *testing.T) {
	content := transcript(150, "g")

	t.Run("one caller leaving does not cancel the others", func(t *testing.T) {
		store := memory.NewIndexStore()
		e := newGatedEmbedder()
		ing := newIngestor(e, store, okResolver())

		ctxA, cancelA := context.WithCancel(context.Background())
		defer cancelA()
		errA := make(chan error, 1)
		go func() {
			_, err := ing.Ingest(ctxA, "doc", content)
			errA <- err
		}()
		<-e.started

		errB := make(chan error, 1)
		go func() {
			_, err := ing.Ingest(context.Background(), "doc", content)
			errB <- err
		}()
		time.Sleep(20 * time.Millisecond)

		cancelA()
		require.ErrorIs(t, <-errA, context.Canceled)

		close(e.release)
		require.NoError(t, <-errB)
		ok, err := store.Exists(context.Background(), "doc")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("last caller leaving cancels the run", func(t *testing.T) {
		store := memory.NewIndexStore()
		e := newGatedEmbedder()
		ing := newIngestor(e, store, okResolver())

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := ing.Ingest(ctx, "doc", content)
			errCh <- err
		}()
		<-e.started

		cancel()
		require.ErrorIs(t, <-errCh, context.Canceled)
		assert.Never(t, func() bool { return store.Len() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	})
}

type stubExtractor struct {
	text  string
	err   error
	calls atomic.Int32
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte) (string, error) {
	s.calls.Add(1)
	return s.text, s.err
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"header at start", []byte("%PDF-1.7\n%âãÏÓ"), true},
		{"header after junk", append([]byte("\x00\x00garbage"), []byte("%PDF-1.4")...), true},
		{"header past the first kilobyte", append([]byte(strings.Repeat(" ", 2048)), []byte("%PDF-1.4")...), false},
		{"plain text", []byte("Interviewer: Good morning."), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ingest.IsPDF(tt.content))
		})
	}
}

func TestIngest_PDFContent(t *testing.T) {
	ctx := context.Background()
	pdfBytes := []byte("%PDF-1.4\n\x00\xff binary body")

	t.Run("extracts before normalizing", func(t *testing.T) {
		store := memory.NewIndexStore()
		x := &stubExtractor{text: string(transcript(300, "pdf"))}
		ing := ingest.New(embed.NewHashEmbedder(32), store, okResolver(),
			ingest.WithChunking(200, 0.2), ingest.WithExtractor(x))

		res, err := ing.Ingest(ctx, "ohc-pdf", pdfBytes)
		require.NoError(t, err)
		assert.Equal(t, int32(1), x.calls.Load())
		assert.Equal(t, ingest.ContentHash(ingest.Normalize(transcript(300, "pdf"))), res.ContentHash)

		chunks, err := store.DocumentChunks(ctx, "ohc-pdf")
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.NotContains(t, chunks[0].Text, "Copyright")
	})

	t.Run("no extractor configured", func(t *testing.T) {
		store := memory.NewIndexStore()
		ing := newIngestor(embed.NewHashEmbedder(32), store, okResolver())

		_, err := ing.Ingest(ctx, "ohc-pdf", pdfBytes)
		assert.ErrorIs(t, err, ingest.ErrUnsupportedContent)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("extractor failure writes nothing", func(t *testing.T) {
		store := memory.NewIndexStore()
		x := &stubExtractor{err: errors.New("pdftotext failed: exit status 1")}
		ing := ingest.New(embed.NewHashEmbedder(32), store, okResolver(), ingest.WithExtractor(x))

		_, err := ing.Ingest(ctx, "ohc-pdf", pdfBytes)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to extract pdf text")
		assert.Equal(t, 0, store.Len())
	})

	t.Run("scanned pdf without a text layer", func(t *testing.T) {
		store := memory.NewIndexStore()
		x := &stubExtractor{text: "\f\f\n"}
		ing := ingest.New(embed.NewHashEmbedder(32), store, okResolver(), ingest.WithExtractor(x))

		_, err := ing.Ingest(ctx, "ohc-pdf", pdfBytes)
		assert.ErrorIs(t, err, ingest.ErrEmptyDocument)
	})
}

func TestIngest_WithMetadata(t *testing.T) {
	ctx := context.Background()
	failing := catalog.ResolverFunc(func(context.Context, string) (*entity.Metadata, error) {
		return nil, catalog.ErrMetadataUnavailable
	})

	t.Run("skips the resolver", func(t *testing.T) {
		store := memory.NewIndexStore()
		md := metadataFor("ohc-7")
		md.Title = "Local record title"
		ing := newIngestor(embed.NewHashEmbedder(32), store, failing)

		_, err := ing.Ingest(ctx, "ohc-7", transcript(200, "w"), ingest.WithMetadata(md))
		require.NoError(t, err)

		chunks, err := store.DocumentChunks(ctx, "ohc-7")
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		assert.Equal(t, "Local record title", chunks[0].Metadata.Title)
	})

	t.Run("invalid metadata is rejected", func(t *testing.T) {
		store := memory.NewIndexStore()
		md := metadataFor("ohc-7")
		md.CatalogLink = ""
		ing := newIngestor(embed.NewHashEmbedder(32), store, okResolver())

		_, err := ing.Ingest(ctx, "ohc-7", transcript(200, "w"), ingest.WithMetadata(md))
		assert.ErrorIs(t, err, catalog.ErrMetadataUnavailable)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("metadata for another document is rejected", func(t *testing.T) {
		store := memory.NewIndexStore()
		ing := newIngestor(embed.NewHashEmbedder(32), store, okResolver())

		_, err := ing.Ingest(ctx, "ohc-7", transcript(200, "w"), ingest.WithMetadata(metadataFor("ohc-8")))
		assert.ErrorIs(t, err, catalog.ErrMetadataUnavailable)
	})
}
