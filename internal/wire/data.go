// Package wire assembles the willa object graph for the binaries.
package wire

import (
	"context"
	"fmt"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/config"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/messaging"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/bolt"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/memory"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/milvus"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/postgres"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/persistence/redis"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/handler"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

// DataLayer holds every storage backend. Redis and Postgres are optional;
// without Postgres the conversation stores live in memory.
type DataLayer struct {
	PgClient    *postgres.Client
	RedisClient *redis.Client
	Cache       *redis.Cache
	RateLimiter *redis.RateLimiter
	Producer    *messaging.Producer

	MilvusClient *milvus.Client
	IndexStore   retrieval.IndexStore

	Transactor repository.Transactor
	Sessions   repository.ConversationSessionRepository
	Turns      repository.ConversationTurnRepository
	Steps      repository.PipelineStepRepository

	Dependencies []handler.Dependency
}

// InitializeDataLayer opens the configured backends. The returned cleanup
// closes them in reverse order.
func InitializeDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*DataLayer, func(), error) {
		cleanup()
		return nil, nil, err
	}

	d := &DataLayer{}

	store, closeStore, err := provideIndexStore(ctx, cfg, d)
	if err != nil {
		return fail(err)
	}
	d.IndexStore = store
	closers = append(closers, closeStore)

	if cfg.Database.Postgres.Enabled {
		pg, err := postgres.NewClient(&cfg.Database.Postgres)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = pg.Close() })
		d.PgClient = pg
		d.Transactor = postgres.NewTxManager(pg)
		d.Sessions = postgres.NewConversationSessionRepository(pg)
		d.Turns = postgres.NewConversationTurnRepository(pg)
		d.Steps = postgres.NewPipelineStepRepository(pg)
		d.Dependencies = append(d.Dependencies, handler.Dependency{Name: "postgres", Checker: pg})
	} else {
		mem := memory.NewConversationStore()
		d.Transactor = mem
		d.Sessions = mem
		d.Turns = mem
		d.Steps = mem
	}

	if cfg.Cache.Redis.Enabled {
		rc, err := redis.NewClient(&cfg.Cache.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		d.RedisClient = rc
		d.Cache = redis.NewCache(rc)
		d.RateLimiter = redis.NewRateLimiter(rc)
		d.Producer = messaging.NewProducer(rc.Redis(), int64(cfg.Messaging.RedisStream.MaxLen)).
			WithStream(messaging.Stream(cfg.Ingest.Stream))
		d.Dependencies = append(d.Dependencies, handler.Dependency{Name: "redis", Checker: rc, Optional: true})
	}

	return d, cleanup, nil
}

func provideIndexStore(ctx context.Context, cfg *config.Config, d *DataLayer) (retrieval.IndexStore, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Vector.Backend)) {
	case config.VectorBackendMemory:
		return memory.NewIndexStore(), func() {}, nil
	case "", config.VectorBackendBolt:
		s, err := bolt.Open(&cfg.Vector.Bolt)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.VectorBackendMilvus:
		mc, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
		if err != nil {
			return nil, nil, err
		}
		d.MilvusClient = mc
		d.Dependencies = append(d.Dependencies, handler.Dependency{Name: "milvus", Checker: mc})
		return milvus.NewIndexStore(mc), func() { _ = mc.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector backend: %s", cfg.Vector.Backend)
	}
}

func logBackends(ctx context.Context, cfg *config.Config, d *DataLayer) {
	logger.Info(ctx, "data layer ready",
		"vector_backend", cfg.Vector.Backend,
		"postgres", d.PgClient != nil,
		"redis", d.RedisClient != nil,
	)
}
