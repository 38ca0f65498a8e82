package retrieval

import (
	"context"
	"fmt"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// IndexStore is the application's port onto the vector index. Adapters live
// under infrastructure/persistence (memory, bolt, milvus).
//
// Every adapter keeps a committed generation per document. UpsertDocument
// writes a new generation and swaps the pointer in one commit, so Search never
// returns chunks of two generations of the same document.
type IndexStore interface {
	// UpsertDocument replaces the document's chunk set. replaced reports
	// whether a previous generation existed.
	UpsertDocument(ctx context.Context, documentID, contentHash string, chunks []entity.Chunk) (replaced bool, err error)
	DeleteDocument(ctx context.Context, documentID string) (existed bool, err error)
	// Search returns at most k candidates by descending similarity, with
	// SimilarityRank filled in. An empty store yields an empty slice.
	Search(ctx context.Context, query []float32, k int) ([]entity.RetrievalCandidate, error)
	Exists(ctx context.Context, documentID string) (bool, error)
	// DocumentHash returns the content hash of the committed generation.
	DocumentHash(ctx context.Context, documentID string) (hash string, ok bool, err error)
	// DocumentChunks returns the committed chunk set ordered by ordinal.
	DocumentChunks(ctx context.Context, documentID string) ([]entity.Chunk, error)
}

// ValidateChunks checks a chunk set before it is written: ordinals are 0..n-1
// in slice order, every chunk belongs to documentID and all embeddings share
// one non-zero dimension.
func ValidateChunks(documentID string, chunks []entity.Chunk) error {
	if documentID == "" {
		return fmt.Errorf("%w: empty document id", ErrInvalidChunks)
	}
	dim := -1
	for i, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %d belongs to %q", ErrInvalidChunks, i, c.DocumentID)
		}
		if c.Ordinal != i {
			return fmt.Errorf("%w: chunk %d has ordinal %d", ErrInvalidChunks, i, c.Ordinal)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d has no embedding", ErrInvalidChunks, i)
		}
		if dim == -1 {
			dim = len(c.Embedding)
		} else if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d", ErrInvalidChunks, i, len(c.Embedding), dim)
		}
	}
	return nil
}

// Unavailable wraps err as ErrIndexStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrIndexStoreUnavailable, op, err)
}
