// Package rerank adapts external cross-encoder services to retrieval.Reranker.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/config"
)

var tracer = otel.Tracer("rerank")

const (
	defaultTimeout = 10 * time.Second
	defaultModel   = "cross-encoder"
	maxBodyBytes   = 4 << 20
)

// HTTPReranker posts the query and candidate texts to a rerank endpoint that
// speaks the common {query, documents} -> {results: [{index, relevance_score}]}
// protocol (Cohere, Jina, text-embeddings-inference).
type HTTPReranker struct {
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ retrieval.Reranker = (*HTTPReranker)(nil)

func NewHTTPReranker(cfg *config.RetrievalConfig, apiKey string, httpClient *http.Client) (*HTTPReranker, error) {
	if cfg == nil || strings.TrimSpace(cfg.RerankURL) == "" {
		return nil, fmt.Errorf("rerank url is required")
	}
	model := strings.TrimSpace(cfg.RerankModel)
	if model == "" {
		model = defaultModel
	}
	if httpClient == nil {
		timeout := cfg.RerankTimeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPReranker{
		url:        strings.TrimSpace(cfg.RerankURL),
		model:      model,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: httpClient,
	}, nil
}

func (r *HTTPReranker) ModelName() string { return r.model }

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []retrieval.RerankCandidate) ([]retrieval.RerankResult, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "rerank.HTTP")
	defer span.End()
	span.SetAttributes(
		attribute.String("rerank.model", r.model),
		attribute.Int("rerank.candidates", len(candidates)),
	)

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}
	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: docs, TopN: len(docs)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("rerank endpoint returned status %d", resp.StatusCode)
		span.RecordError(err)
		return nil, err
	}

	var out rerankResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]retrieval.RerankResult, 0, len(out.Results))
	for _, res := range out.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank result index %d out of range", res.Index)
		}
		results = append(results, retrieval.RerankResult{ID: candidates[res.Index].ID, Score: res.RelevanceScore})
	}
	return results, nil
}
