package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	llmctx "github.com/BerkeleyLibrary/willa/internal/domain/service"
	wfmodel "github.com/BerkeleyLibrary/willa/internal/workflow/model"
	"github.com/BerkeleyLibrary/willa/internal/workflow/node"
	workflowport "github.com/BerkeleyLibrary/willa/internal/workflow/port"
	workflowprompt "github.com/BerkeleyLibrary/willa/internal/workflow/prompt"
)

const maxQueryRunes = 500

// RewriteChain condenses the conversation into a standalone search query.
type RewriteChain struct {
	factory workflowport.ChatModelFactory
}

func NewRewriteChain(factory workflowport.ChatModelFactory) *RewriteChain {
	return &RewriteChain{factory: factory}
}

var rewritePromptRegistry = workflowprompt.NewRegistry()

func (c *RewriteChain) Invoke(ctx context.Context, in *wfmodel.RewriteInput) (string, error) {
	if c == nil || c.factory == nil {
		return "", fmt.Errorf("llm factory not configured")
	}
	if in == nil || strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	if len(in.History) == 0 {
		return strings.TrimSpace(in.Query), nil
	}

	provider := strings.TrimSpace(in.Provider)
	ctx = llmctx.WithLLMCall(ctx, llmctx.LLMCall{Workflow: "query_rewrite", Provider: provider})
	chatModel, err := c.factory.Get(ctx, provider)
	if err != nil {
		return "", err
	}

	tpl, err := rewritePromptRegistry.ChatTemplate(workflowprompt.PromptRewriteV1)
	if err != nil {
		return "", err
	}
	msgs, err := tpl.Format(ctx, map[string]any{
		"question":      strings.TrimSpace(in.Query),
		"history_block": node.BuildHistoryBlock(in.History, 1000),
	})
	if err != nil {
		return "", err
	}

	opts := []model.Option{model.WithTemperature(0), model.WithMaxTokens(128)}
	if strings.TrimSpace(in.Model) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(in.Model)))
	}
	outMsg, err := chatModel.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if outMsg == nil {
		return "", fmt.Errorf("empty llm response")
	}

	q := strings.TrimSpace(outMsg.Content)
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		q = q[:i]
	}
	q = strings.Trim(strings.TrimSpace(q), "\"'`")
	q = node.TruncateByRunes(strings.TrimSpace(q), maxQueryRunes)
	if q == "" {
		return "", fmt.Errorf("empty rewritten query")
	}
	return q, nil
}
