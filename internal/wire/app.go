package wire

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/internal/config"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/messaging"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/handler"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/middleware"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/router"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/worker"
)

// App is the HTTP API.
type App struct {
	Core   *Core
	router *router.Router
}

func (a *App) Engine() *gin.Engine {
	return a.router.Engine()
}

// InitializeApp builds the API server graph.
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	core, cleanup, err := InitializeAll(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	data := core.Data
	var queue handler.IngestQueue
	if data.Producer != nil {
		queue = data.Producer
	}
	var limiter middleware.RateLimiter
	if data.RateLimiter != nil {
		limiter = data.RateLimiter
	}

	r := router.New(cfg, router.Handlers{
		Health:       handler.NewHealthHandler(cfg.App.Version, data.Dependencies...),
		Document:     handler.NewDocumentHandler(core.Ingestor, queue, core.Resolver),
		Conversation: handler.NewConversationHandler(core.Conversation),
	}, limiter)

	return &App{Core: core, router: r}, cleanup, nil
}

// InitializeAll opens the data layer and builds the core on top of it.
func InitializeAll(ctx context.Context, cfg *config.Config) (*Core, func(), error) {
	data, cleanup, err := InitializeDataLayer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	core, err := InitializeCore(ctx, cfg, data)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return core, cleanup, nil
}

// Worker consumes ingest jobs from the stream.
type Worker struct {
	Core     *Core
	Consumer *messaging.Consumer
}

// InitializeWorker requires Redis.
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil, fmt.Errorf("ingest worker requires cache.redis.enabled")
	}
	core, cleanup, err := InitializeAll(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	rs := cfg.Messaging.RedisStream
	consumer := messaging.NewConsumer(core.Data.RedisClient.Redis(), messaging.ConsumerConfig{
		Stream:        core.Data.Producer.Stream(),
		Group:         messaging.ConsumerGroupIngestWorker.GroupName(rs.ConsumerGroupPrefix),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff:       messaging.BackoffFromConfig(rs.RetryBackoff),
	})
	worker.NewIngestHandler(core.Ingestor).Register(consumer)

	return &Worker{Core: core, Consumer: consumer}, cleanup, nil
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
