package entity

import (
	"strconv"
)

// SourceDocument is a transcript submitted for ingestion.
type SourceDocument struct {
	ID          string
	Content     string
	ContentHash string
}

// Chunk is a window of a document's normalized text plus its embedding.
type Chunk struct {
	DocumentID  string    `json:"document_id"`
	Ordinal     int       `json:"ordinal"`
	Text        string    `json:"text"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Embedding   []float32 `json:"embedding,omitempty"`
	ContentHash string    `json:"content_hash"`
	Generation  int64     `json:"generation"`
	Metadata    Metadata  `json:"metadata"`
}

// ID is the stable chunk key "<document_id>#<ordinal>".
func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Ordinal)
}

func ChunkID(documentID string, ordinal int) string {
	return documentID + "#" + strconv.Itoa(ordinal)
}

// RetrievalCandidate is a chunk returned by the index with its scores.
// SimilarityRank is the 0-based position in the similarity ordering.
type RetrievalCandidate struct {
	Chunk          Chunk   `json:"chunk"`
	Similarity     float64 `json:"similarity"`
	SimilarityRank int     `json:"similarity_rank"`
	RerankScore    float64 `json:"rerank_score"`
}
