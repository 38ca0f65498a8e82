// Package chain holds the LLM calls of the answer pipeline, each built from a
// prompt template and a chat model obtained from the factory.
package chain

import (
	"context"
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

const historyMessageRunes = 2000

type AnswerChain struct {
	factory workflowport.ChatModelFactory
}

func NewAnswerChain(factory workflowport.ChatModelFactory) *AnswerChain {
	return &AnswerChain{factory: factory}
}

func (c *AnswerChain) Invoke(ctx context.Context, in *wfmodel.AnswerInput) (*schema.Message, error) {
	chatModel, msgs, err := c.prepare(ctx, in, "answer_generate")
	if err != nil {
		return nil, err
	}

	outMsg, err := chatModel.Generate(ctx, msgs, buildAnswerModelOptions(in)...)
	if err != nil {
		return nil, err
	}
	if outMsg == nil {
		return nil, fmt.Errorf("empty llm response")
	}
	return outMsg, nil
}

// Stream returns the eino StreamReader; the caller must Close it.
func (c *AnswerChain) Stream(ctx context.Context, in *wfmodel.AnswerInput) (*schema.StreamReader[*schema.Message], error) {
	chatModel, msgs, err := c.prepare(ctx, in, "answer_stream")
	if err != nil {
		return nil, err
	}
	return chatModel.Stream(ctx, msgs, buildAnswerModelOptions(in)...)
}

func (c *AnswerChain) prepare(ctx context.Context, in *wfmodel.AnswerInput, workflow string) (model.BaseChatModel, []*schema.Message, error) {
	if c == nil || c.factory == nil {
		return nil, nil, fmt.Errorf("llm factory not configured")
	}
	if in == nil {
		return nil, nil, fmt.Errorf("input is nil")
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, nil, fmt.Errorf("query is required")
	}

	provider := strings.TrimSpace(in.Provider)
	ctx = llmctx.WithLLMCall(ctx, llmctx.LLMCall{Workflow: workflow, Provider: provider})
	chatModel, err := c.factory.Get(ctx, provider)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := formatAnswerMessages(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return chatModel, msgs, nil
}

var answerPromptRegistry = workflowprompt.NewRegistry()

func formatAnswerMessages(ctx context.Context, in *wfmodel.AnswerInput) ([]*schema.Message, error) {
	id := workflowprompt.PromptAnswerV1
	if in.Direct {
		id = workflowprompt.PromptDirectV1
	}
	tpl, err := answerPromptRegistry.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"question":                strings.TrimSpace(in.Query),
		"context":                 strings.TrimSpace(in.RetrievedContext),
		workflowprompt.HistoryVar: node.HistoryMessages(in.History, historyMessageRunes),
	}
	return tpl.Format(ctx, vars)
}

func buildAnswerModelOptions(in *wfmodel.AnswerInput) []model.Option {
	opts := make([]model.Option, 0, 3)
	if in == nil {
		return opts
	}
	if in.Temperature != nil {
		opts = append(opts, model.WithTemperature(*in.Temperature))
	}
	if in.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*in.MaxTokens))
	}
	if strings.TrimSpace(in.Model) != "" {
		opts = append(opts, model.WithModel(strings.TrimSpace(in.Model)))
	}
	return opts
}
