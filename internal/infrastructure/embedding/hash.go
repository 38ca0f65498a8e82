package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

const defaultHashDimension = 256

// HashEmbedder is an offline bag-of-words embedder: every lowercased word is
// hashed into one of Dimension buckets and the vector is L2-normalized. Texts
// sharing words get positive cosine similarity. It needs no network and is
// meant for local runs and tests.
type HashEmbedder struct {
	Dimension int
}

var _ embedding.Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &HashEmbedder{Dimension: dimension}
}

func (h *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, h.Dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[int(f.Sum32()%uint32(h.Dimension))]++
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm == 0 {
		// Keep empty text embeddable; cosine with it is 0 for every other text.
		vec[0] = 1e-9
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
