package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/BerkeleyLibrary/willa/internal/domain/service"
)

// EmbedTexts embeds texts with one call and converts the vectors to float32.
func EmbedTexts(ctx context.Context, embedder embedding.Embedder, texts []string) ([][]float32, error) {
	if embedder == nil {
		return nil, ErrEmbedderDisabled
	}
	if len(texts) == 0 {
		return nil, nil
	}

	v64, err := embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(v64) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(v64), len(texts))
	}

	out := make([][]float32, 0, len(v64))
	for _, vec := range v64 {
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty embedding result")
		}
		f32 := make([]float32, 0, len(vec))
		for _, x := range vec {
			f32 = append(f32, float32(x))
		}
		out = append(out, f32)
	}
	return out, nil
}

// EmbedWithRetry is EmbedTexts with one retry after backoff. The final error
// wraps ErrEmbeddingFailure.
func EmbedWithRetry(ctx context.Context, embedder embedding.Embedder, texts []string, backoff time.Duration) ([][]float32, error) {
	var out [][]float32
	err := service.RetryOnce(ctx, backoff, func(ctx context.Context) error {
		v, err := EmbedTexts(ctx, embedder, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailure, err)
	}
	return out, nil
}
