package model

import (
	"time"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// Exchange is one earlier question and answer of the conversation.
type Exchange struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type LLMUsageMeta struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Temperature      float64
	GeneratedAt      time.Time
}

// ExchangesFromTurns converts stored turns, oldest first.
func ExchangesFromTurns(turns []*entity.ConversationTurn) []Exchange {
	out := make([]Exchange, 0, len(turns))
	for _, t := range turns {
		if t == nil {
			continue
		}
		out = append(out, Exchange{Query: t.Query, Answer: t.Answer})
	}
	return out
}
