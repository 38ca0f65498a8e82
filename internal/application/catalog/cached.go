package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
	"github.com/BerkeleyLibrary/willa/pkg/metrics"
)

var tracer = otel.Tracer("catalog")

const (
	defaultCacheTTL = 24 * time.Hour
	cacheKeyPrefix  = "catalog:meta:"
)

// Cache is the read-through cache the resolver sits behind. GetOrLoad must
// collapse concurrent loads for one key, must not cache loader errors and
// must return them wrapped in *LoaderError.
type Cache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (any, error)) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// LoaderError carries an error returned by the loader, as opposed to a
// failure of the cache backend itself.
type LoaderError struct {
	Err error
}

func (e *LoaderError) Error() string { return e.Err.Error() }
func (e *LoaderError) Unwrap() error { return e.Err }

// CachedResolver caches successful lookups. Lookup failures are never cached.
type CachedResolver struct {
	inner Resolver
	cache Cache
	ttl   time.Duration
}

func NewCachedResolver(inner Resolver, cache Cache, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedResolver{inner: inner, cache: cache, ttl: ttl}
}

func (r *CachedResolver) Resolve(ctx context.Context, documentID string) (*entity.Metadata, error) {
	if r == nil || r.inner == nil {
		return nil, errors.New("catalog resolver is not configured")
	}
	documentID = strings.TrimSpace(documentID)
	if r.cache == nil {
		return r.inner.Resolve(ctx, documentID)
	}

	ctx, span := tracer.Start(ctx, "catalog.CachedResolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("catalog.document_id", documentID))

	key := cacheKeyPrefix + documentID
	loaded := false
	b, err := r.cache.GetOrLoad(ctx, key, r.ttl, func(ctx context.Context) (any, error) {
		loaded = true
		return r.inner.Resolve(ctx, documentID)
	})
	if err != nil {
		var loadErr *LoaderError
		if errors.As(err, &loadErr) {
			span.RecordError(loadErr.Err)
			return nil, loadErr.Err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Cache backend failure: go straight to the catalog.
		logger.Warn(ctx, "catalog cache unavailable, resolving directly", "document_id", documentID, "error", err.Error())
		return r.inner.Resolve(ctx, documentID)
	}

	var md entity.Metadata
	if err := json.Unmarshal(b, &md); err != nil || Validate(&md) != nil {
		logger.Warn(ctx, "dropping unusable cached metadata", "document_id", documentID)
		_ = r.cache.Delete(ctx, key)
		return r.inner.Resolve(ctx, documentID)
	}

	if !loaded {
		metrics.CatalogLookupTotal.WithLabelValues("cache", "hit").Inc()
	}
	span.SetAttributes(attribute.Bool("catalog.cache_hit", !loaded))
	return &md, nil
}

// Invalidate forgets the cached metadata of documentID.
func (r *CachedResolver) Invalidate(ctx context.Context, documentID string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, cacheKeyPrefix+strings.TrimSpace(documentID))
}
