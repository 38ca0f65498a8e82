package wire

import (
	"context"
	"os"
	"strings"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/application/trace"
	"github.com/BerkeleyLibrary/willa/internal/config"
	tindcatalog "github.com/BerkeleyLibrary/willa/internal/infrastructure/catalog/tind"
	infraembedding "github.com/BerkeleyLibrary/willa/internal/infrastructure/embedding"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/llm"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/pdf"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/rerank"
	"github.com/BerkeleyLibrary/willa/internal/workflow/chain"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

// RerankAPIKeyEnv names the environment variable holding the rerank service key.
const RerankAPIKeyEnv = "WILLA_RERANK_API_KEY"

// Core is the application layer built on top of a DataLayer.
type Core struct {
	Data *DataLayer

	Embedder     einoembedding.Embedder
	Catalog      *tindcatalog.Client
	Extractor    *pdf.Extractor
	Resolver     catalog.Resolver
	Ingestor     *ingest.Ingestor
	Engine       *retrieval.Engine
	Graph        *conversation.Graph
	Conversation *conversation.Service
}

// InitializeCore wires the pipeline components selected by cfg.
func InitializeCore(ctx context.Context, cfg *config.Config, data *DataLayer) (*Core, error) {
	embedder, err := infraembedding.New(ctx, &cfg.Embedding)
	if err != nil {
		return nil, err
	}

	tind := tindcatalog.NewClient(&cfg.Catalog, nil)
	var resolver catalog.Resolver = tind
	if data.Cache != nil {
		resolver = catalog.NewCachedResolver(tind, data.Cache, cfg.Catalog.CacheTTL)
	}

	extractor := pdf.New(pdf.WithTool(cfg.Ingest.PDFToText))
	if err := extractor.CheckAvailable(); err != nil {
		logger.Warn(ctx, "pdf transcripts will fail to ingest", "error", err.Error())
	}
	ingestor := ingest.New(embedder, data.IndexStore, resolver,
		ingest.WithConfig(&cfg.Ingest, &cfg.Embedding),
		ingest.WithExtractor(extractor),
	)

	factory := llm.NewEinoFactory(cfg)
	provider := cfg.Conversation.GenerateProvider

	reranker, err := provideReranker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	engineOpts := []retrieval.EngineOption{
		retrieval.WithLimits(cfg.Retrieval.Candidates, cfg.Retrieval.TopK),
		retrieval.WithRewriter(provideRewriter(cfg, factory, provider)),
		retrieval.WithReranker(reranker),
	}
	if cfg.Retrieval.RetryBackoff > 0 {
		engineOpts = append(engineOpts, retrieval.WithRetryBackoff(cfg.Retrieval.RetryBackoff))
	}
	engine := retrieval.NewEngine(embedder, data.IndexStore, engineOpts...)

	graphOpts := []conversation.GraphOption{
		conversation.WithArena(trace.NewArena(cfg.Conversation.TraceRetention)),
		conversation.WithContextLimit(cfg.Conversation.ContextMaxRunes),
	}
	if strings.EqualFold(cfg.Conversation.Classifier, config.ClassifierLLM) {
		graphOpts = append(graphOpts, conversation.WithClassifier(
			conversation.NewLLMClassifier(chain.NewClassifyChain(factory), provider)))
	}
	if cfg.Conversation.RetryBackoff > 0 {
		graphOpts = append(graphOpts, conversation.WithRetryBackoff(cfg.Conversation.RetryBackoff))
	}
	generator := conversation.NewLLMGenerator(chain.NewAnswerChain(factory), provider)
	graph := conversation.NewGraph(engine, generator, resolver, graphOpts...)

	svcOpts := []conversation.ServiceOption{
		conversation.WithAutoCreate(cfg.Conversation.AutoCreate),
		// the rewriter window counts messages, two per earlier turn
		conversation.WithHistoryTurns(cfg.Retrieval.HistoryMessages / 2),
	}
	if cfg.Conversation.ExportTraces {
		svcOpts = append(svcOpts, conversation.WithStepExport(data.Steps))
	}
	svc := conversation.NewService(graph, data.Sessions, data.Turns, data.Transactor, svcOpts...)

	logBackends(ctx, cfg, data)
	return &Core{
		Data:         data,
		Embedder:     embedder,
		Catalog:      tind,
		Extractor:    extractor,
		Resolver:     resolver,
		Ingestor:     ingestor,
		Engine:       engine,
		Graph:        graph,
		Conversation: svc,
	}, nil
}

func provideRewriter(cfg *config.Config, factory *llm.EinoFactory, provider string) retrieval.QueryRewriter {
	if strings.EqualFold(cfg.Retrieval.Rewriter, config.RewriterLLM) {
		return retrieval.NewLLMRewriter(chain.NewRewriteChain(factory), provider, cfg.Retrieval.HistoryMessages)
	}
	return retrieval.NewHistoryWindowRewriter(cfg.Retrieval.HistoryMessages, cfg.Retrieval.MaxPrior)
}

func provideReranker(ctx context.Context, cfg *config.Config) (retrieval.Reranker, error) {
	if !strings.EqualFold(cfg.Retrieval.Reranker, config.RerankerHTTP) {
		return retrieval.LexicalReranker{}, nil
	}
	r, err := rerank.NewHTTPReranker(&cfg.Retrieval, os.Getenv(RerankAPIKeyEnv), nil)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "using http reranker", "url", cfg.Retrieval.RerankURL, "model", r.ModelName())
	return r, nil
}
