// Package ingest turns transcripts into embedded, metadata-enriched chunks in
// the index store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/config"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

var tracer = otel.Tracer("ingest")

var (
	// ErrEmptyDocument means nothing is left after normalization.
	ErrEmptyDocument = errors.New("document is empty after normalization")
	// ErrEmbeddingFailure is returned when a batch still fails after its retry.
	ErrEmbeddingFailure = retrieval.ErrEmbeddingFailure
)

const (
	defaultBatchSize    = 16
	defaultConcurrency  = 4
	defaultRetryBackoff = 500 * time.Millisecond
)

// IngestResult reports what a call to Ingest did.
type IngestResult struct {
	DocumentID    string `json:"document_id"`
	ChunksWritten int    `json:"chunks_written"`
	Replaced      bool   `json:"replaced"`
	Skipped       bool   `json:"skipped"`
	ContentHash   string `json:"content_hash"`
}

type Ingestor struct {
	embedder  embedding.Embedder
	store     retrieval.IndexStore
	resolver  catalog.Resolver
	extractor TextExtractor

	chunkSize    int
	overlap      float64
	batchSize    int
	concurrency  int
	retryBackoff time.Duration

	flights flightGroup
}

type Option func(*Ingestor)

// WithChunking sets the window size in runes and the overlap fraction.
func WithChunking(size int, overlapFraction float64) Option {
	return func(i *Ingestor) {
		if size > 0 {
			i.chunkSize = size
		}
		if overlapFraction >= 0 {
			i.overlap = overlapFraction
		}
	}
}

// WithEmbedding sets the batch size and how many batches are embedded at once.
func WithEmbedding(batchSize, concurrency int) Option {
	return func(i *Ingestor) {
		if batchSize > 0 {
			i.batchSize = batchSize
		}
		if concurrency > 0 {
			i.concurrency = concurrency
		}
	}
}

// WithExtractor enables PDF transcripts.
func WithExtractor(x TextExtractor) Option {
	return func(i *Ingestor) { i.extractor = x }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(i *Ingestor) {
		if d >= 0 {
			i.retryBackoff = d
		}
	}
}

// WithConfig applies the ingest and embedding sections of the config.
func WithConfig(ic *config.IngestConfig, ec *config.EmbeddingConfig) Option {
	return func(i *Ingestor) {
		if ic != nil {
			WithChunking(ic.ChunkSize, ic.OverlapFraction)(i)
			WithEmbedding(0, ic.EmbedConcurrency)(i)
			if ic.RetryBackoff > 0 {
				i.retryBackoff = ic.RetryBackoff
			}
		}
		if ec != nil {
			WithEmbedding(ec.BatchSize, 0)(i)
		}
	}
}

func New(embedder embedding.Embedder, store retrieval.IndexStore, resolver catalog.Resolver, opts ...Option) *Ingestor {
	i := &Ingestor{
		embedder:     embedder,
		store:        store,
		resolver:     resolver,
		chunkSize:    defaultChunkSize,
		overlap:      defaultOverlapFraction,
		batchSize:    defaultBatchSize,
		concurrency:  defaultConcurrency,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type ingestOptions struct {
	force    bool
	metadata *entity.Metadata
}

type IngestOption func(*ingestOptions)

// WithForce re-ingests even when the stored content hash matches.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// WithMetadata uses md instead of asking the resolver, for records whose
// catalog entry ships alongside the transcript.
func WithMetadata(md *entity.Metadata) IngestOption {
	return func(o *ingestOptions) { o.metadata = md }
}

// Ingest normalizes, splits, embeds and stores one document. Nothing is
// written unless every step succeeds; the final write replaces any previous
// version of the document atomically.
func (i *Ingestor) Ingest(ctx context.Context, documentID string, content []byte, opts ...IngestOption) (*IngestResult, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.metadata != nil {
		if err := catalog.Validate(o.metadata); err != nil {
			return nil, err
		}
		if o.metadata.DocumentID != documentID {
			return nil, fmt.Errorf("%w: metadata is for %s, not %s", catalog.ErrMetadataUnavailable, o.metadata.DocumentID, documentID)
		}
	}

	raw, err := i.plainText(ctx, content)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	text := Normalize(raw)
	if text == "" {
		metrics.IngestTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, documentID)
	}
	hash := ContentHash(text)

	key := documentID + "@" + hash + "@" + strconv.FormatBool(o.force)
	if o.metadata != nil {
		b, _ := json.Marshal(o.metadata)
		key += "@" + ContentHash(string(b))
	}
	v, err := i.flights.do(ctx, key, func(ctx context.Context) (any, error) {
		return i.ingest(ctx, documentID, text, hash, o)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*IngestResult)
	return &res, nil
}

func (i *Ingestor) ingest(ctx context.Context, documentID, text, hash string, o ingestOptions) (*IngestResult, error) {
	ctx = context.WithValue(ctx, logger.DocumentKey, documentID)
	ctx, span := tracer.Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("ingest.document_id", documentID),
		attribute.Bool("ingest.force", o.force),
	)

	fail := func(err error) (*IngestResult, error) {
		span.RecordError(err)
		metrics.IngestTotal.WithLabelValues("failed").Inc()
		logger.Error(ctx, "ingest failed", err)
		return nil, err
	}

	if !o.force {
		prev, ok, err := i.store.DocumentHash(ctx, documentID)
		if err != nil {
			return fail(err)
		}
		if ok && prev == hash {
			metrics.IngestTotal.WithLabelValues("skipped").Inc()
			logger.Info(ctx, "document unchanged, skipping")
			return &IngestResult{DocumentID: documentID, Skipped: true, ContentHash: hash}, nil
		}
	}

	windows := Split(text, i.chunkSize, i.overlap)
	span.SetAttributes(attribute.Int("ingest.chunks", len(windows)))

	md, err := i.metadata(ctx, documentID, o)
	if err != nil {
		return fail(err)
	}

	vectors, err := i.embed(ctx, md.Title, windows)
	if err != nil {
		return fail(err)
	}

	chunks := make([]entity.Chunk, len(windows))
	for n, w := range windows {
		chunks[n] = entity.Chunk{
			DocumentID:  documentID,
			Ordinal:     n,
			Text:        w.Text,
			StartOffset: w.Start,
			EndOffset:   w.End,
			Embedding:   vectors[n],
			ContentHash: hash,
			Metadata:    md.Clone(),
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	replaced, err := i.store.UpsertDocument(ctx, documentID, hash, chunks)
	if err != nil {
		return fail(err)
	}

	outcome := "written"
	if replaced {
		outcome = "replaced"
	}
	metrics.IngestTotal.WithLabelValues(outcome).Inc()
	metrics.IngestChunks.Observe(float64(len(chunks)))
	logger.Info(ctx, "document ingested", "chunks", len(chunks), "replaced", replaced)

	return &IngestResult{
		DocumentID:    documentID,
		ChunksWritten: len(chunks),
		Replaced:      replaced,
		ContentHash:   hash,
	}, nil
}

func (i *Ingestor) metadata(ctx context.Context, documentID string, o ingestOptions) (*entity.Metadata, error) {
	if o.metadata != nil {
		return o.metadata, nil
	}
	if o.force {
		i.invalidateMetadata(ctx, documentID)
	}
	md, err := i.resolver.Resolve(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve metadata: %w", err)
	}
	return md, nil
}

// metadataInvalidator is implemented by caching resolvers.
type metadataInvalidator interface {
	Invalidate(ctx context.Context, documentID string) error
}

// invalidateMetadata drops a cached catalog record so a forced ingest picks
// up catalog edits.
func (i *Ingestor) invalidateMetadata(ctx context.Context, documentID string) {
	inv, ok := i.resolver.(metadataInvalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, documentID); err != nil {
		logger.Warn(ctx, "failed to invalidate cached metadata", "error", err.Error())
	}
}

// embed returns one vector per window, in window order. Batches run
// concurrently and each writes only its own range of the result.
func (i *Ingestor) embed(ctx context.Context, title string, windows []Window) ([][]float32, error) {
	texts := make([]string, len(windows))
	for n, w := range windows {
		texts[n] = EmbeddingText(title, w.Text)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for start := 0; start < len(texts); start += i.batchSize {
		start := start
		end := start + i.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := retrieval.EmbedWithRetry(gctx, i.embedder, texts[start:end], i.retryBackoff)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return out, nil
}

// EmbeddingText is what gets embedded for a chunk: the chunk prefixed with the
// interview title so that title words match.
func EmbeddingText(title, chunk string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return chunk
	}
	return "Title: " + title + "\n" + chunk
}

// Delete removes a document and all its chunks.
func (i *Ingestor) Delete(ctx context.Context, documentID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "ingest.Delete")
	defer span.End()
	existed, err := i.store.DeleteDocument(ctx, documentID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if existed {
		logger.Info(ctx, "document deleted", "document_id", documentID)
	}
	return existed, nil
}
