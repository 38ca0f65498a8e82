package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	llmctx "github.com/BerkeleyLibrary/willa/internal/domain/service"
	wfmodel "github.com/BerkeleyLibrary/willa/internal/workflow/model"
	"github.com/BerkeleyLibrary/willa/internal/workflow/node"
	workflowport "github.com/BerkeleyLibrary/willa/internal/workflow/port"
	workflowprompt "github.com/BerkeleyLibrary/willa/internal/workflow/prompt"
)

// ClassifyChain asks the model whether a turn needs retrieval. It runs at
// temperature 0 so the same conversation is routed the same way.
type ClassifyChain struct {
	factory workflowport.ChatModelFactory
}

func NewClassifyChain(factory workflowport.ChatModelFactory) *ClassifyChain {
	return &ClassifyChain{factory: factory}
}

var classifyPromptRegistry = workflowprompt.NewRegistry()

func (c *ClassifyChain) Invoke(ctx context.Context, in *wfmodel.ClassifyInput) (*wfmodel.ClassifyOutput, error) {
	if c == nil || c.factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil || strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	provider := strings.TrimSpace(in.Provider)
	ctx = llmctx.WithLLMCall(ctx, llmctx.LLMCall{Workflow: "turn_classify", Provider: provider})
	chatModel, err := c.factory.Get(ctx, provider)
	if err != nil {
		return nil, err
	}

	tpl, err := classifyPromptRegistry.ChatTemplate(workflowprompt.PromptClassifyV1)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, map[string]any{
		"question":      strings.TrimSpace(in.Query),
		"history_block": node.BuildHistoryBlock(in.History, 500),
	})
	if err != nil {
		return nil, err
	}

	opts := []model.Option{model.WithTemperature(0), model.WithMaxTokens(64)}
	if strings.TrimSpace(in.Model) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(in.Model)))
	}
	outMsg, err := chatModel.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, err
	}
	return ParseClassification(outMsg)
}

// ParseClassification reads the model's JSON verdict. A bare "trivial" or
// "retrieve" answer is accepted too.
func ParseClassification(msg *schema.Message) (*wfmodel.ClassifyOutput, error) {
	if msg == nil {
		return nil, fmt.Errorf("empty llm response")
	}
	content := strings.TrimSpace(msg.Content)

	var out wfmodel.ClassifyOutput
	if err := json.Unmarshal([]byte(node.ExtractJSONObject(content)), &out); err == nil {
		return &out, nil
	}

	switch strings.ToLower(strings.Trim(content, " .\"'`")) {
	case "trivial", "true":
		return &wfmodel.ClassifyOutput{Trivial: true}, nil
	case "retrieve", "false":
		return &wfmodel.ClassifyOutput{Trivial: false}, nil
	}
	return nil, fmt.Errorf("unparsable classification: %q", node.TruncateByRunes(content, 200))
}
