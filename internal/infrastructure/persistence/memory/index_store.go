// Package memory is an in-process IndexStore for tests and single-shot CLI runs.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

type generation struct {
	number int64
	hash   string
	chunks []entity.Chunk
}

// IndexStore keeps one immutable generation per document. Writers build the
// new generation outside the lock and swap the pointer under it.
type IndexStore struct {
	mu   sync.RWMutex
	docs map[string]*generation
	next int64
}

var _ retrieval.IndexStore = (*IndexStore)(nil)

func NewIndexStore() *IndexStore {
	return &IndexStore{docs: make(map[string]*generation)}
}

func (s *IndexStore) UpsertDocument(ctx context.Context, documentID, contentHash string, chunks []entity.Chunk) (bool, error) {
	documentID = strings.TrimSpace(documentID)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := retrieval.ValidateChunks(documentID, chunks); err != nil {
		return false, err
	}

	gen := &generation{hash: contentHash, chunks: make([]entity.Chunk, len(chunks))}
	for i, c := range chunks {
		c.Embedding = append([]float32(nil), c.Embedding...)
		c.Metadata = c.Metadata.Clone()
		c.ContentHash = contentHash
		gen.chunks[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	gen.number = s.next
	for i := range gen.chunks {
		gen.chunks[i].Generation = gen.number
	}
	_, replaced := s.docs[documentID]
	s.docs[documentID] = gen
	return replaced, nil
}

func (s *IndexStore) DeleteDocument(ctx context.Context, documentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[documentID]
	delete(s.docs, documentID)
	return ok, nil
}

func (s *IndexStore) Search(ctx context.Context, query []float32, k int) ([]entity.RetrievalCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []entity.RetrievalCandidate{}, nil
	}

	s.mu.RLock()
	gens := make([]*generation, 0, len(s.docs))
	for _, g := range s.docs {
		gens = append(gens, g)
	}
	s.mu.RUnlock()

	cands := make([]entity.RetrievalCandidate, 0)
	for _, g := range gens {
		for _, c := range g.chunks {
			cands = append(cands, entity.RetrievalCandidate{Chunk: c, Similarity: retrieval.Cosine(query, c.Embedding)})
		}
	}
	metrics.IndexSearchTotal.WithLabelValues("memory", "ok").Inc()
	return retrieval.RankBySimilarity(cands, k), nil
}

func (s *IndexStore) Exists(ctx context.Context, documentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[documentID]
	return ok, ctx.Err()
}

func (s *IndexStore) DocumentHash(_ context.Context, documentID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.docs[documentID]
	if !ok {
		return "", false, nil
	}
	return g.hash, true, nil
}

func (s *IndexStore) DocumentChunks(_ context.Context, documentID string) ([]entity.Chunk, error) {
	s.mu.RLock()
	g, ok := s.docs[documentID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return append([]entity.Chunk(nil), g.chunks...), nil
}

// Len returns the number of committed chunks across all documents.
func (s *IndexStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.docs {
		n += len(g.chunks)
	}
	return n
}
