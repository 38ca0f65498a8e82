package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/config"
)

func TestEinoFactory_Get(t *testing.T) {
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "openai",
		Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1", Model: "gpt-4o-mini", MaxTokens: 512, Timeout: time.Second},
			"nokey":  {Model: "gpt-4o-mini"},
		},
	}}
	f := NewEinoFactory(cfg)
	ctx := context.Background()

	m1, err := f.Default(ctx)
	require.NoError(t, err)
	m2, err := f.Get(ctx, "openai")
	require.NoError(t, err)
	assert.Same(t, m1, m2, "models are cached per provider")

	_, err = f.Get(ctx, "missing")
	require.Error(t, err)
	_, err = f.Get(ctx, "nokey")
	require.Error(t, err)
}
