package retrieval

import (
	"math"
	"sort"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// Cosine returns the cosine similarity of a and b, or 0 when the dimensions
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankBySimilarity sorts candidates by similarity descending, keeps the first
// k and sets SimilarityRank. Equal similarities are ordered by chunk id so the
// result does not depend on map or scan order.
func RankBySimilarity(cands []entity.RetrievalCandidate, k int) []entity.RetrievalCandidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Similarity != cands[j].Similarity {
			return cands[i].Similarity > cands[j].Similarity
		}
		if cands[i].Chunk.DocumentID != cands[j].Chunk.DocumentID {
			return cands[i].Chunk.DocumentID < cands[j].Chunk.DocumentID
		}
		return cands[i].Chunk.Ordinal < cands[j].Chunk.Ordinal
	})
	if k >= 0 && len(cands) > k {
		cands = cands[:k]
	}
	for i := range cands {
		cands[i].SimilarityRank = i
	}
	return cands
}

// OrderByRerank sorts by RerankScore descending; ties keep similarity rank order.
func OrderByRerank(cands []entity.RetrievalCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].RerankScore != cands[j].RerankScore {
			return cands[i].RerankScore > cands[j].RerankScore
		}
		return cands[i].SimilarityRank < cands[j].SimilarityRank
	})
}
