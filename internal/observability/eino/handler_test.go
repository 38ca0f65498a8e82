package eino

import (
	"context"
	"errors"
	"testing"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	llmctx "github.com/BerkeleyLibrary/willa/internal/domain/service"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

func TestChatModelCallbacks(t *testing.T) {
	h := newChatModelCallbackHandler()
	ctx := llmctx.WithLLMCall(context.Background(), llmctx.LLMCall{Workflow: "answer_generate", Provider: "test-provider"})
	info := &einocb.RunInfo{Name: "answer", Type: "OpenAI"}

	before := testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("test-provider", "m1", "success"))
	ctx = h.OnStart(ctx, info, &model.CallbackInput{Config: &model.Config{Model: "m1"}})
	h.OnEnd(ctx, info, &model.CallbackOutput{TokenUsage: &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5}})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("test-provider", "m1", "success")))

	before = testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("test-provider", "m1", "error"))
	ctx = h.OnStart(ctx, info, &model.CallbackInput{Config: &model.Config{Model: "m1"}})
	h.OnError(ctx, info, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("test-provider", "m1", "error")))
}

func TestEmbeddingCallbacks(t *testing.T) {
	h := newEmbeddingCallbackHandler()
	info := &einocb.RunInfo{Type: "OpenAI"}

	before := testutil.ToFloat64(metrics.EmbeddingCallTotal.WithLabelValues("e1", "success"))
	ctx := h.OnStart(context.Background(), info, &embedding.CallbackInput{Texts: []string{"a", "b"}, Config: &embedding.Config{Model: "e1"}})
	h.OnEnd(ctx, info, &embedding.CallbackOutput{})
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EmbeddingCallTotal.WithLabelValues("e1", "success")))
}
