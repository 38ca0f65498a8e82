package conversation

import (
	"context"
	"strings"
	"unicode"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

// TurnClassifier decides whether a turn can be answered without the archive.
type TurnClassifier interface {
	IsTrivial(ctx context.Context, query string, history []*entity.ConversationTurn) (bool, error)
}

// HeuristicClassifier treats greetings, thanks, farewells and questions about
// the assistant itself as trivial. Only whole utterances match, so "hello" is
// trivial and "hello, who was Clark Kerr?" is not.
type HeuristicClassifier struct{}

var _ TurnClassifier = HeuristicClassifier{}

var trivialPhrases = map[string]bool{
	"who are you":             true,
	"what are you":            true,
	"what can you do":         true,
	"what do you do":          true,
	"how do you work":         true,
	"what is your name":       true,
	"whats your name":         true,
	"how are you":             true,
	"how are you doing":       true,
	"are you a bot":           true,
	"are you a robot":         true,
	"what can i ask":          true,
	"what can i ask you":      true,
	"what should i ask":       true,
	"how can you help":        true,
	"how can you help me":     true,
	"what are you able to do": true,
	"nice to meet you":        true,
	"that helps":              true,
	"that was helpful":        true,
	"never mind":              true,
	"nevermind":               true,
	"help":                    true,
	"test":                    true,
}

// Utterances made only of these words are small talk.
var smallTalkWords = map[string]bool{
	"hi": true, "hello": true, "hey": true, "hiya": true, "howdy": true, "greetings": true,
	"good": true, "morning": true, "afternoon": true, "evening": true, "day": true,
	"there": true, "willa": true, "again": true, "all": true,
	"thanks": true, "thank": true, "you": true, "thx": true, "ty": true, "so": true, "much": true,
	"very": true, "a": true, "lot": true, "cheers": true, "appreciated": true, "appreciate": true, "it": true,
	"ok": true, "okay": true, "k": true, "cool": true, "great": true, "nice": true, "awesome": true,
	"perfect": true, "got": true, "bye": true, "goodbye": true, "later": true, "see": true, "ya": true,
	"yes": true, "no": true, "sure": true,
}

func (HeuristicClassifier) IsTrivial(_ context.Context, query string, _ []*entity.ConversationTurn) (bool, error) {
	return IsSmallTalk(query), nil
}

// IsSmallTalk is the HeuristicClassifier rule.
func IsSmallTalk(query string) bool {
	words := normalizeUtterance(query)
	if len(words) == 0 {
		return false
	}
	if trivialPhrases[strings.Join(words, " ")] {
		return true
	}
	for _, w := range words {
		if !smallTalkWords[w] {
			return false
		}
	}
	return true
}

func normalizeUtterance(s string) []string {
	s = strings.ToLower(strings.ReplaceAll(s, "'", ""))
	s = strings.ReplaceAll(s, "’", "")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ClassifierFunc adapts a function to TurnClassifier.
type ClassifierFunc func(ctx context.Context, query string, history []*entity.ConversationTurn) (bool, error)

func (f ClassifierFunc) IsTrivial(ctx context.Context, query string, history []*entity.ConversationTurn) (bool, error) {
	return f(ctx, query, history)
}
