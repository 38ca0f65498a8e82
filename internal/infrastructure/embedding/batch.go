package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
)

const defaultBatchSize = 16

// BatchingEmbedder splits large inputs into provider-sized requests.
type BatchingEmbedder struct {
	inner     embedding.Embedder
	batchSize int
}

var _ embedding.Embedder = (*BatchingEmbedder)(nil)

func NewBatchingEmbedder(inner embedding.Embedder, batchSize int) *BatchingEmbedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &BatchingEmbedder{inner: inner, batchSize: batchSize}
}

func (b *BatchingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) <= b.batchSize {
		return b.inner.EmbedStrings(ctx, texts, opts...)
	}

	all := make([][]float64, 0, len(texts))
	for i := 0; i < len(texts); i += b.batchSize {
		end := i + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := b.inner.EmbedStrings(ctx, texts[i:end], opts...)
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-i {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(vecs), end-i)
		}
		all = append(all, vecs...)
	}
	return all, nil
}
