package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	domain "github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

const (
	backendName   = "milvus"
	defaultEf     = 128
	searchOverlap = 2
	// searchMaxRounds bounds how often a short filtered result is re-queried
	// with a doubled limit. Milvus rejects limits above searchMaxLimit.
	searchMaxRounds = 4
	searchMaxLimit  = 16384
)

var chunkOutputFields = []string{
	"id", "document_id", "ordinal", "generation", "content_hash",
	"start_offset", "end_offset", "text", "metadata",
}

// IndexStore writes each upsert as a new generation of rows, then commits the
// generation in the documents collection. Search drops hits whose generation
// is not the committed one, so a reader never mixes two generations of a
// document even while old rows are still being deleted.
type IndexStore struct {
	client *Client
	dim    int
	ef     int

	ensureOnce sync.Once
	ensureErr  error

	// Serializes writers of one document inside this process.
	docLocks sync.Map
}

var _ retrieval.IndexStore = (*IndexStore)(nil)

func NewIndexStore(c *Client) *IndexStore {
	dim := c.config.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	ef := c.config.HNSWEf
	if ef <= 0 {
		ef = defaultEf
	}
	return &IndexStore{client: c, dim: dim, ef: ef}
}

func (s *IndexStore) lock(documentID string) func() {
	v, _ := s.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// EnsureCollections creates and loads both collections when missing.
// It never drops or rebuilds anything.
func (s *IndexStore) EnsureCollections(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		s.ensureErr = s.ensureCollections(ctx)
	})
	return s.ensureErr
}

func (s *IndexStore) ensureCollections(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollections")
	defer span.End()

	mc := s.client.milvus
	cfg := s.client.config

	type spec struct {
		name   string
		schema *entity.Schema
		field  string
		index  func() (entity.Index, error)
	}
	specs := []spec{
		{
			name:   CollectionChunks,
			schema: ChunksSchema(s.client.CollectionName(CollectionChunks), s.dim),
			field:  "vector",
			index: func() (entity.Index, error) {
				return entity.NewIndexHNSW(entity.COSINE, cfg.HNSWM, cfg.HNSWEfConstruction)
			},
		},
		{
			name:   CollectionDocuments,
			schema: DocumentsSchema(s.client.CollectionName(CollectionDocuments)),
			field:  "pad",
			index: func() (entity.Index, error) {
				return entity.NewIndexFlat(entity.L2)
			},
		},
	}

	for _, sp := range specs {
		exists, err := s.client.HasCollection(ctx, sp.name)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to check collection %s: %w", sp.name, err)
		}
		if !exists {
			if err := mc.CreateCollection(ctx, sp.schema, entity.DefaultShardNumber, client.WithConsistencyLevel(entity.ClStrong)); err != nil {
				span.RecordError(err)
				return fmt.Errorf("failed to create collection %s: %w", sp.name, err)
			}
			idx, err := sp.index()
			if err != nil {
				return fmt.Errorf("failed to build index: %w", err)
			}
			if err := mc.CreateIndex(ctx, sp.schema.CollectionName, sp.field, idx, false); err != nil {
				span.RecordError(err)
				return fmt.Errorf("failed to create index on %s: %w", sp.name, err)
			}
		}
		if err := s.client.LoadCollection(ctx, sp.name); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to load collection %s: %w", sp.name, err)
		}
	}
	return nil
}

func (s *IndexStore) ready(ctx context.Context, op string) error {
	if s == nil || s.client == nil || s.client.milvus == nil {
		return retrieval.Unavailable(op, fmt.Errorf("milvus client not configured"))
	}
	if err := s.EnsureCollections(ctx); err != nil {
		return retrieval.Unavailable(op, err)
	}
	return nil
}

func (s *IndexStore) UpsertDocument(ctx context.Context, documentID, contentHash string, chunks []domain.Chunk) (bool, error) {
	documentID = strings.TrimSpace(documentID)
	if err := retrieval.ValidateChunks(documentID, chunks); err != nil {
		return false, err
	}
	if len(chunks) > 0 && len(chunks[0].Embedding) != s.dim {
		return false, fmt.Errorf("%w: embedding dimension %d, collection expects %d", retrieval.ErrInvalidChunks, len(chunks[0].Embedding), s.dim)
	}
	if err := s.ready(ctx, "upsert"); err != nil {
		return false, err
	}

	ctx, span := tracer.Start(ctx, "milvus.UpsertDocument",
		trace.WithAttributes(
			attribute.String("document_id", documentID),
			attribute.Int("count", len(chunks)),
		))
	defer span.End()

	unlock := s.lock(documentID)
	defer unlock()

	prev, replaced, err := s.pointer(ctx, documentID)
	if err != nil {
		span.RecordError(err)
		return false, retrieval.Unavailable("upsert", err)
	}
	gen := time.Now().UnixNano()
	if replaced && gen <= prev.Generation {
		gen = prev.Generation + 1
	}

	if len(chunks) > 0 {
		cols, err := chunkColumns(chunks, contentHash, gen, s.dim)
		if err != nil {
			return false, err
		}
		if _, err := s.client.milvus.Insert(ctx, s.client.CollectionName(CollectionChunks), "", cols...); err != nil {
			span.RecordError(err)
			return false, retrieval.Unavailable("insert chunks", err)
		}
	}

	// Commit point.
	if _, err := s.client.milvus.Upsert(ctx, s.client.CollectionName(CollectionDocuments), "",
		entity.NewColumnVarChar("document_id", []string{documentID}),
		entity.NewColumnInt64("generation", []int64{gen}),
		entity.NewColumnVarChar("content_hash", []string{contentHash}),
		entity.NewColumnInt64("chunks", []int64{int64(len(chunks))}),
		entity.NewColumnFloatVector("pad", pointerPadDim, [][]float32{{1, 0}}),
	); err != nil {
		span.RecordError(err)
		// The new rows are unreferenced; drop them so they do not pile up.
		_ = s.deleteGeneration(ctx, documentID, fmt.Sprintf("generation == %d", gen))
		return false, retrieval.Unavailable("commit generation", err)
	}

	if err := s.deleteGeneration(ctx, documentID, fmt.Sprintf("generation < %d", gen)); err != nil {
		// Stale rows are invisible to Search; a later upsert removes them.
		logger.Warn(ctx, "failed to delete stale chunk generation", "document_id", documentID, "error", err.Error())
	}
	return replaced, nil
}

func (s *IndexStore) deleteGeneration(ctx context.Context, documentID, genExpr string) error {
	expr := fmt.Sprintf("document_id == %s && %s", quote(documentID), genExpr)
	return s.client.milvus.Delete(ctx, s.client.CollectionName(CollectionChunks), "", expr)
}

func (s *IndexStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	if err := s.ready(ctx, "delete"); err != nil {
		return false, err
	}
	ctx, span := tracer.Start(ctx, "milvus.DeleteDocument",
		trace.WithAttributes(attribute.String("document_id", documentID)))
	defer span.End()

	unlock := s.lock(documentID)
	defer unlock()

	_, existed, err := s.pointer(ctx, documentID)
	if err != nil {
		span.RecordError(err)
		return false, retrieval.Unavailable("delete", err)
	}
	if !existed {
		return false, nil
	}
	expr := fmt.Sprintf("document_id in [%s]", quote(documentID))
	if err := s.client.milvus.Delete(ctx, s.client.CollectionName(CollectionDocuments), "", expr); err != nil {
		span.RecordError(err)
		return false, retrieval.Unavailable("delete pointer", err)
	}
	if err := s.client.milvus.Delete(ctx, s.client.CollectionName(CollectionChunks), "", "document_id == "+quote(documentID)); err != nil {
		logger.Warn(ctx, "failed to delete chunks of removed document", "document_id", documentID, "error", err.Error())
	}
	return true, nil
}

func (s *IndexStore) Search(ctx context.Context, query []float32, k int) ([]domain.RetrievalCandidate, error) {
	if k <= 0 {
		return []domain.RetrievalCandidate{}, nil
	}
	if err := s.ready(ctx, "search"); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(attribute.Int("top_k", k)))
	defer span.End()

	start := time.Now()
	out, err := s.search(ctx, query, k)
	metrics.IndexSearchDuration.WithLabelValues(backendName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IndexSearchTotal.WithLabelValues(backendName, "error").Inc()
		span.RecordError(err)
		return nil, retrieval.Unavailable("search", err)
	}
	metrics.IndexSearchTotal.WithLabelValues(backendName, "ok").Inc()
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// search over-fetches so hits from stale generations can be dropped. When
// stale rows crowd out committed ones the limit is doubled and the query
// repeated, up to searchMaxRounds times.
func (s *IndexStore) search(ctx context.Context, query []float32, k int) ([]domain.RetrievalCandidate, error) {
	limit := k * searchOverlap
	var kept []domain.RetrievalCandidate
	for round := 1; ; round++ {
		hits, err := s.searchLimit(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		kept, err = s.keepCommitted(ctx, hits)
		if err != nil {
			return nil, err
		}
		next, again := widenSearch(len(hits), len(kept), limit, k, round)
		if !again {
			break
		}
		logger.Debug(ctx, "stale generations crowded out search hits, widening",
			"limit", limit, "next_limit", next, "kept", len(kept))
		limit = next
	}
	return retrieval.RankBySimilarity(kept, k), nil
}

// widenSearch decides whether a search that returned fetched hits, kept of
// them after filtering, should be repeated and with which limit. It stops
// once k hits survive, the collection is exhausted or the round budget is spent.
func widenSearch(fetched, kept, limit, k, round int) (int, bool) {
	if kept >= k || fetched < limit || round >= searchMaxRounds || limit >= searchMaxLimit {
		return limit, false
	}
	next := limit * 2
	if next > searchMaxLimit {
		next = searchMaxLimit
	}
	return next, true
}

func (s *IndexStore) searchLimit(ctx context.Context, query []float32, limit int) ([]domain.RetrievalCandidate, error) {
	ef := s.ef
	if ef < limit {
		ef = limit
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := s.client.milvus.Search(ctx,
		s.client.CollectionName(CollectionChunks),
		nil,
		"",
		chunkOutputFields,
		[]entity.Vector{entity.FloatVector(query)},
		"vector",
		entity.COSINE,
		limit,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var hits []domain.RetrievalCandidate
	for _, result := range results {
		chunks, err := decodeChunks(result.Fields, result.ResultCount)
		if err != nil {
			return nil, err
		}
		for i, c := range chunks {
			hits = append(hits, domain.RetrievalCandidate{Chunk: c, Similarity: float64(result.Scores[i])})
		}
	}
	return hits, nil
}

func (s *IndexStore) keepCommitted(ctx context.Context, hits []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	if len(hits) == 0 {
		return []domain.RetrievalCandidate{}, nil
	}
	docIDs := make([]string, 0, len(hits))
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.Chunk.DocumentID] {
			seen[h.Chunk.DocumentID] = true
			docIDs = append(docIDs, h.Chunk.DocumentID)
		}
	}
	committed, err := s.pointers(ctx, docIDs)
	if err != nil {
		return nil, err
	}
	return filterCommitted(hits, committed), nil
}

// filterCommitted keeps hits whose generation is the document's committed one.
func filterCommitted(hits []domain.RetrievalCandidate, committed map[string]docPointer) []domain.RetrievalCandidate {
	out := hits[:0]
	for _, h := range hits {
		p, ok := committed[h.Chunk.DocumentID]
		if ok && p.Generation == h.Chunk.Generation {
			out = append(out, h)
		}
	}
	return out
}

func (s *IndexStore) Exists(ctx context.Context, documentID string) (bool, error) {
	if err := s.ready(ctx, "exists"); err != nil {
		return false, err
	}
	_, ok, err := s.pointer(ctx, documentID)
	if err != nil {
		return false, retrieval.Unavailable("exists", err)
	}
	return ok, nil
}

func (s *IndexStore) DocumentHash(ctx context.Context, documentID string) (string, bool, error) {
	if err := s.ready(ctx, "document hash"); err != nil {
		return "", false, err
	}
	p, ok, err := s.pointer(ctx, documentID)
	if err != nil {
		return "", false, retrieval.Unavailable("document hash", err)
	}
	return p.Hash, ok, nil
}

func (s *IndexStore) DocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if err := s.ready(ctx, "document chunks"); err != nil {
		return nil, err
	}
	p, ok, err := s.pointer(ctx, documentID)
	if err != nil {
		return nil, retrieval.Unavailable("document chunks", err)
	}
	if !ok {
		return nil, nil
	}

	expr := fmt.Sprintf("document_id == %s && generation == %d", quote(documentID), p.Generation)
	rs, err := s.client.milvus.Query(ctx, s.client.CollectionName(CollectionChunks), nil, expr,
		append([]string{"vector"}, chunkOutputFields...),
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, retrieval.Unavailable("document chunks", err)
	}
	n := 0
	if col := rs.GetColumn("id"); col != nil {
		n = col.Len()
	}
	chunks, err := decodeChunks(rs, n)
	if err != nil {
		return nil, retrieval.Unavailable("document chunks", err)
	}
	if vecCol, ok := rs.GetColumn("vector").(*entity.ColumnFloatVector); ok {
		for i, v := range vecCol.Data() {
			chunks[i].Embedding = v
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })
	return chunks, nil
}

type docPointer struct {
	Generation int64
	Hash       string
	Chunks     int64
}

func (s *IndexStore) pointer(ctx context.Context, documentID string) (docPointer, bool, error) {
	m, err := s.pointers(ctx, []string{documentID})
	if err != nil {
		return docPointer{}, false, err
	}
	p, ok := m[documentID]
	return p, ok, nil
}

func (s *IndexStore) pointers(ctx context.Context, documentIDs []string) (map[string]docPointer, error) {
	quoted := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		quoted[i] = quote(id)
	}
	expr := fmt.Sprintf("document_id in [%s]", strings.Join(quoted, ", "))
	rs, err := s.client.milvus.Query(ctx, s.client.CollectionName(CollectionDocuments), nil, expr,
		[]string{"document_id", "generation", "content_hash", "chunks"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation pointers: %w", err)
	}
	return decodePointers(rs)
}

func decodePointers(rs client.ResultSet) (map[string]docPointer, error) {
	out := make(map[string]docPointer)
	idCol, ok := rs.GetColumn("document_id").(*entity.ColumnVarChar)
	if !ok {
		return out, nil
	}
	genCol, ok1 := rs.GetColumn("generation").(*entity.ColumnInt64)
	hashCol, ok2 := rs.GetColumn("content_hash").(*entity.ColumnVarChar)
	countCol, ok3 := rs.GetColumn("chunks").(*entity.ColumnInt64)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("pointer result is missing columns")
	}
	for i, id := range idCol.Data() {
		out[id] = docPointer{
			Generation: genCol.Data()[i],
			Hash:       hashCol.Data()[i],
			Chunks:     countCol.Data()[i],
		}
	}
	return out, nil
}

func chunkColumns(chunks []domain.Chunk, contentHash string, gen int64, dim int) ([]entity.Column, error) {
	n := len(chunks)
	ids := make([]string, n)
	vectors := make([][]float32, n)
	docIDs := make([]string, n)
	ordinals := make([]int64, n)
	gens := make([]int64, n)
	hashes := make([]string, n)
	starts := make([]int64, n)
	ends := make([]int64, n)
	texts := make([]string, n)
	metas := make([]string, n)

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		ids[i] = rowID(c.DocumentID, c.Ordinal, gen)
		vectors[i] = c.Embedding
		docIDs[i] = c.DocumentID
		ordinals[i] = int64(c.Ordinal)
		gens[i] = gen
		hashes[i] = contentHash
		starts[i] = int64(c.StartOffset)
		ends[i] = int64(c.EndOffset)
		texts[i] = c.Text
		metas[i] = string(meta)
	}

	return []entity.Column{
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector("vector", dim, vectors),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnInt64("ordinal", ordinals),
		entity.NewColumnInt64("generation", gens),
		entity.NewColumnVarChar("content_hash", hashes),
		entity.NewColumnInt64("start_offset", starts),
		entity.NewColumnInt64("end_offset", ends),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("metadata", metas),
	}, nil
}

func rowID(documentID string, ordinal int, gen int64) string {
	return fmt.Sprintf("%s@%d", domain.ChunkID(documentID, ordinal), gen)
}

// decodeChunks reads n rows of chunk output fields.
func decodeChunks(rs client.ResultSet, n int) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, n)
	if n == 0 {
		return out, nil
	}
	docCol, ok1 := rs.GetColumn("document_id").(*entity.ColumnVarChar)
	ordCol, ok2 := rs.GetColumn("ordinal").(*entity.ColumnInt64)
	genCol, ok3 := rs.GetColumn("generation").(*entity.ColumnInt64)
	textCol, ok4 := rs.GetColumn("text").(*entity.ColumnVarChar)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("chunk result is missing columns")
	}
	hashCol, _ := rs.GetColumn("content_hash").(*entity.ColumnVarChar)
	startCol, _ := rs.GetColumn("start_offset").(*entity.ColumnInt64)
	endCol, _ := rs.GetColumn("end_offset").(*entity.ColumnInt64)
	metaCol, _ := rs.GetColumn("metadata").(*entity.ColumnVarChar)

	for i := 0; i < n; i++ {
		c := domain.Chunk{
			DocumentID: docCol.Data()[i],
			Ordinal:    int(ordCol.Data()[i]),
			Generation: genCol.Data()[i],
			Text:       textCol.Data()[i],
		}
		if hashCol != nil {
			c.ContentHash = hashCol.Data()[i]
		}
		if startCol != nil {
			c.StartOffset = int(startCol.Data()[i])
		}
		if endCol != nil {
			c.EndOffset = int(endCol.Data()[i])
		}
		if metaCol != nil {
			if raw := metaCol.Data()[i]; raw != "" {
				if err := json.Unmarshal([]byte(raw), &c.Metadata); err != nil {
					return nil, fmt.Errorf("failed to decode metadata of %s: %w", c.ID(), err)
				}
			}
		}
		out[i] = c
	}
	return out, nil
}

// quote renders s as a Milvus expression string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
