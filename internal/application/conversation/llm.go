package conversation

import (
	"context"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/workflow/chain"
	wfmodel "github.com/BerkeleyLibrary/willa/internal/workflow/model"
)

// LLMGenerator answers with AnswerChain. Referenced documents come from the
// [doc:<id>] markers in the answer.
type LLMGenerator struct {
	chain    *chain.AnswerChain
	provider string
}

var _ Generator = (*LLMGenerator)(nil)

func NewLLMGenerator(c *chain.AnswerChain, provider string) *LLMGenerator {
	return &LLMGenerator{chain: c, provider: strings.TrimSpace(provider)}
}

func (g *LLMGenerator) Generate(ctx context.Context, in *GenerateInput) (*GenerateOutput, error) {
	msg, err := g.chain.Invoke(ctx, &wfmodel.AnswerInput{
		Query:            in.Query,
		History:          wfmodel.ExchangesFromTurns(in.History),
		RetrievedContext: in.Context,
		Direct:           in.Direct,
		Provider:         g.provider,
	})
	if err != nil {
		return nil, err
	}
	return &GenerateOutput{Text: strings.TrimSpace(msg.Content)}, nil
}

// LLMClassifier routes turns with ClassifyChain.
type LLMClassifier struct {
	chain    *chain.ClassifyChain
	provider string
}

var _ TurnClassifier = (*LLMClassifier)(nil)

func NewLLMClassifier(c *chain.ClassifyChain, provider string) *LLMClassifier {
	return &LLMClassifier{chain: c, provider: strings.TrimSpace(provider)}
}

func (c *LLMClassifier) IsTrivial(ctx context.Context, query string, history []*entity.ConversationTurn) (bool, error) {
	out, err := c.chain.Invoke(ctx, &wfmodel.ClassifyInput{
		Query:    query,
		History:  wfmodel.ExchangesFromTurns(history),
		Provider: c.provider,
	})
	if err != nil {
		return false, err
	}
	return out.Trivial, nil
}
