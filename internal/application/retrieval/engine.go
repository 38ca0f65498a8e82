// Package retrieval finds and ranks transcript chunks for a user query.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BerkeleyLibrary/willa/internal/application/trace"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

var tracer = otel.Tracer("retrieval")

const (
	defaultCandidates   = 20
	maxCandidates       = 100
	defaultTopK         = 5
	defaultRetryBackoff = 500 * time.Millisecond
)

type Engine struct {
	embedder embedding.Embedder
	store    IndexStore
	rewriter QueryRewriter
	reranker Reranker

	candidates   int
	topK         int
	retryBackoff time.Duration
}

type EngineOption func(*Engine)

func WithRewriter(r QueryRewriter) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.rewriter = r
		}
	}
}

func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.reranker = r
		}
	}
}

// WithLimits sets N (candidates fetched) and K (candidates returned).
func WithLimits(candidates, topK int) EngineOption {
	return func(e *Engine) {
		if candidates > 0 {
			e.candidates = candidates
		}
		if topK > 0 {
			e.topK = topK
		}
	}
}

func WithRetryBackoff(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.retryBackoff = d
		}
	}
}

func NewEngine(embedder embedding.Embedder, store IndexStore, opts ...EngineOption) *Engine {
	e := &Engine{
		embedder:     embedder,
		store:        store,
		rewriter:     NewHistoryWindowRewriter(defaultHistoryMessages, defaultMaxPrior),
		reranker:     LexicalReranker{},
		candidates:   defaultCandidates,
		topK:         defaultTopK,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.candidates > maxCandidates {
		e.candidates = maxCandidates
	}
	if e.topK > e.candidates {
		e.topK = e.candidates
	}
	return e
}

func (e *Engine) Enabled() bool {
	return e != nil && e.embedder != nil && e.store != nil
}

// Retrieve returns the top K candidates for query, ordered by rerank score.
func (e *Engine) Retrieve(ctx context.Context, query string, history []*entity.ConversationTurn) ([]entity.RetrievalCandidate, error) {
	return e.RetrieveTraced(ctx, query, history, nil)
}

// RetrieveTraced is Retrieve that records one step per stage on rec.
func (e *Engine) RetrieveTraced(ctx context.Context, query string, history []*entity.ConversationTurn, rec *trace.Recorder) ([]entity.RetrievalCandidate, error) {
	if !e.Enabled() {
		return nil, ErrEmbedderDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.candidates", e.candidates),
		attribute.Int("retrieval.top_k", e.topK),
		attribute.Int("retrieval.history_turns", len(history)),
	)

	searchText := e.rewrite(ctx, query, history)

	step := rec.Start(entity.StepEmbedding, "embed_query", searchText)
	vecs, err := EmbedWithRetry(ctx, e.embedder, []string{searchText}, e.retryBackoff)
	if err != nil {
		step.End("", err)
		span.RecordError(err)
		return nil, err
	}
	step.End(fmt.Sprintf("dimension=%d", len(vecs[0])), nil)

	step = rec.Start(entity.StepRetrieval, "index_search", fmt.Sprintf("k=%d", e.candidates))
	cands, err := e.store.Search(ctx, vecs[0], e.candidates)
	if err != nil {
		if !errors.Is(err, ErrIndexStoreUnavailable) {
			err = Unavailable("search", err)
		}
		step.End("", err)
		span.RecordError(err)
		return nil, err
	}
	step.End(summarize(cands, false), nil)

	if len(cands) == 0 {
		return []entity.RetrievalCandidate{}, nil
	}

	step = rec.Start(entity.StepRerank, e.reranker.ModelName(), query)
	e.rerank(ctx, query, cands)
	OrderByRerank(cands)
	if len(cands) > e.topK {
		cands = cands[:e.topK]
	}
	step.End(summarize(cands, true), nil)

	span.SetAttributes(attribute.Int("retrieval.returned", len(cands)))
	return cands, nil
}

func (e *Engine) rewrite(ctx context.Context, query string, history []*entity.ConversationTurn) string {
	if e.rewriter == nil {
		return query
	}
	out, err := e.rewriter.Rewrite(ctx, query, history)
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			logger.Warn(ctx, "query rewrite failed, searching with the original query", "error", err.Error())
		}
		return query
	}
	return out
}

// rerank fills RerankScore. Any reranker error, or a result that leaves a
// candidate unscored, falls back to lexical scoring for the whole set.
func (e *Engine) rerank(ctx context.Context, query string, cands []entity.RetrievalCandidate) {
	in := make([]RerankCandidate, len(cands))
	for i, c := range cands {
		in[i] = RerankCandidate{ID: c.Chunk.ID(), Content: c.Chunk.Text, Score: c.Similarity}
	}

	results, err := e.reranker.Rerank(ctx, query, in)
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = r.Score
	}
	if err == nil {
		for _, c := range in {
			if _, ok := scores[c.ID]; !ok {
				err = fmt.Errorf("reranker returned no score for %s", c.ID)
				break
			}
		}
	}
	if err != nil {
		logger.Warn(ctx, "reranker failed, using lexical scores", "reranker", e.reranker.ModelName(), "error", err.Error())
		scores = make(map[string]float64, len(in))
		for _, r := range lexicalScores(query, in) {
			scores[r.ID] = r.Score
		}
	}

	for i := range cands {
		cands[i].RerankScore = scores[cands[i].Chunk.ID()]
	}
}

type candidateSummary struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Rerank     float64 `json:"rerank,omitempty"`
}

func summarize(cands []entity.RetrievalCandidate, withRerank bool) string {
	out := make([]candidateSummary, 0, len(cands))
	for _, c := range cands {
		s := candidateSummary{ID: c.Chunk.ID(), Similarity: c.Similarity}
		if withRerank {
			s.Rerank = c.RerankScore
		}
		out = append(out, s)
	}
	b, _ := json.Marshal(out)
	return string(b)
}
