package retrieval

import (
	"context"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/workflow/chain"
	wfmodel "github.com/BerkeleyLibrary/willa/internal/workflow/model"
)

// LLMRewriter asks RewriteChain for a standalone query over the last
// `turns` turns of history.
type LLMRewriter struct {
	chain    *chain.RewriteChain
	provider string
	turns    int
}

var _ QueryRewriter = (*LLMRewriter)(nil)

func NewLLMRewriter(c *chain.RewriteChain, provider string, historyMessages int) *LLMRewriter {
	turns := historyMessages / 2
	if turns <= 0 {
		turns = defaultHistoryMessages / 2
	}
	return &LLMRewriter{chain: c, provider: strings.TrimSpace(provider), turns: turns}
}

func (r *LLMRewriter) Rewrite(ctx context.Context, query string, history []*entity.ConversationTurn) (string, error) {
	if len(history) > r.turns {
		history = history[len(history)-r.turns:]
	}
	return r.chain.Invoke(ctx, &wfmodel.RewriteInput{
		Query:    query,
		History:  wfmodel.ExchangesFromTurns(history),
		Provider: r.provider,
	})
}
