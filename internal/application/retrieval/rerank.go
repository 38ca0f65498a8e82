package retrieval

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// RerankCandidate is a chunk handed to a reranker.
type RerankCandidate struct {
	// ID maps results back to candidates (the chunk id).
	ID      string
	Content string
	// Score is the first-stage similarity.
	Score float64
}

// RerankResult carries the relevance score of one candidate.
type RerankResult struct {
	ID    string
	Score float64
}

// Reranker scores candidates against the original user query. Results may come
// back in any order; candidates missing from the result are scored by the
// engine's fallback.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)
	ModelName() string
}

const (
	bm25K1      = 1.2
	bm25B       = 0.75
	bigramBonus = 0.5
)

// LexicalReranker is a deterministic BM25 scorer over the candidate set with a
// bonus for query bigrams that appear in the chunk.
type LexicalReranker struct{}

var _ Reranker = LexicalReranker{}

func (LexicalReranker) ModelName() string { return "lexical-bm25" }

func (LexicalReranker) Rerank(_ context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error) {
	return lexicalScores(query, candidates), nil
}

func lexicalScores(query string, candidates []RerankCandidate) []RerankResult {
	out := make([]RerankResult, len(candidates))
	qTerms := Terms(query)
	if len(qTerms) == 0 || len(candidates) == 0 {
		for i, c := range candidates {
			out[i] = RerankResult{ID: c.ID}
		}
		return out
	}

	docs := make([][]string, len(candidates))
	df := make(map[string]int)
	totalLen := 0
	for i, c := range candidates {
		docs[i] = Terms(c.Content)
		totalLen += len(docs[i])
		seen := make(map[string]bool)
		for _, t := range docs[i] {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	avgLen := float64(totalLen) / float64(len(candidates))
	if avgLen == 0 {
		avgLen = 1
	}
	n := float64(len(candidates))

	uniq := uniqueTerms(qTerms)
	qBigrams := bigrams(qTerms)

	for i, c := range candidates {
		tf := make(map[string]int, len(docs[i]))
		for _, t := range docs[i] {
			tf[t]++
		}
		dl := float64(len(docs[i]))

		score := 0.0
		for _, q := range uniq {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			d := float64(df[q])
			idf := math.Log(1 + (n-d+0.5)/(d+0.5))
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*dl/avgLen))
		}

		if len(qBigrams) > 0 {
			docBigrams := make(map[string]bool)
			for _, b := range bigrams(docs[i]) {
				docBigrams[b] = true
			}
			for _, b := range qBigrams {
				if docBigrams[b] {
					score += bigramBonus
				}
			}
		}
		out[i] = RerankResult{ID: c.ID, Score: score}
	}
	return out
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "but": true,
	"by": true, "did": true, "do": true, "does": true, "for": true, "from": true, "had": true, "has": true,
	"have": true, "he": true, "her": true, "his": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "its": true, "me": true, "my": true, "of": true, "on": true, "or": true, "she": true,
	"so": true, "that": true, "the": true, "their": true, "them": true, "they": true, "this": true,
	"to": true, "was": true, "we": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "with": true, "you": true, "your": true,
}

// Terms lowercases s, splits it on anything that is not a letter or digit and
// drops stopwords.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func bigrams(terms []string) []string {
	if len(terms) < 2 {
		return nil
	}
	out := make([]string, 0, len(terms)-1)
	for i := 0; i+1 < len(terms); i++ {
		out = append(out, terms[i]+" "+terms[i+1])
	}
	return out
}
