// Package embedding builds the eino embedders used for ingestion and search.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/BerkeleyLibrary/willa/internal/config"
)

// NewEinoEmbedder creates an OpenAI-compatible embedder.
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("embedding api_key is required")
	}

	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// New returns the embedder selected by cfg.Provider, wrapped in batches of cfg.BatchSize.
func New(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	var (
		inner embedding.Embedder
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.EmbeddingHash:
		inner = NewHashEmbedder(cfg.Dimension)
	case "", config.EmbeddingOpenAI:
		inner, err = NewEinoEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewBatchingEmbedder(inner, cfg.BatchSize), nil
}
