package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failAll error
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) GetOrLoad(ctx context.Context, key string, _ time.Duration, loader func(ctx context.Context) (any, error)) ([]byte, error) {
	if c.failAll != nil {
		return nil, c.failAll
	}
	c.mu.Lock()
	if b, ok := c.data[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	v, err := loader(ctx)
	if err != nil {
		return nil, &LoaderError{Err: err}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return b, nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

type countingResolver struct {
	calls int
	md    *entity.Metadata
	err   error
}

func (r *countingResolver) Resolve(_ context.Context, id string) (*entity.Metadata, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	md := r.md.Clone()
	md.DocumentID = id
	return &md, nil
}

func sampleMetadata() *entity.Metadata {
	return &entity.Metadata{
		DocumentID: "103806",
		Title:      "Oral History of X",
		Contributors: []entity.Contributor{
			{Name: "A", Role: entity.RoleInterviewer},
			{Name: "B", Role: entity.RoleInterviewee},
		},
		ProjectName: "Project Y",
		CatalogLink: "https://digicoll.lib.berkeley.edu/record/103806",
	}
}

func TestCachedResolver_CachesSuccess(t *testing.T) {
	inner := &countingResolver{md: sampleMetadata()}
	r := NewCachedResolver(inner, newMapCache(), time.Minute)

	for i := 0; i < 3; i++ {
		md, err := r.Resolve(context.Background(), "103806")
		require.NoError(t, err)
		assert.Equal(t, "Oral History of X", md.Title)
		assert.Equal(t, []string{"A"}, md.Interviewers())
	}
	assert.Equal(t, 1, inner.calls)
}

func TestCachedResolver_DoesNotCacheFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", fmt.Errorf("record 1: %w", ErrNotFound)},
		{"unavailable", fmt.Errorf("timeout: %w", ErrMetadataUnavailable)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &countingResolver{err: tt.err}
			r := NewCachedResolver(inner, newMapCache(), time.Minute)

			_, err := r.Resolve(context.Background(), "1")
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.Unwrap(tt.err))

			_, _ = r.Resolve(context.Background(), "1")
			assert.Equal(t, 2, inner.calls)
		})
	}
}

func TestCachedResolver_FallsBackWhenCacheIsDown(t *testing.T) {
	inner := &countingResolver{md: sampleMetadata()}
	cache := newMapCache()
	cache.failAll = errors.New("connection refused")
	r := NewCachedResolver(inner, cache, time.Minute)

	md, err := r.Resolve(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", md.DocumentID)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedResolver_LoaderErrorsAreNotRetried(t *testing.T) {
	notConfigured := errors.New("tind api key is not configured")
	inner := &countingResolver{err: notConfigured}
	r := NewCachedResolver(inner, newMapCache(), time.Minute)

	_, err := r.Resolve(context.Background(), "1")
	require.ErrorIs(t, err, notConfigured)
	assert.Equal(t, 1, inner.calls, "a loader error is not mistaken for a cache outage")
}

func TestCachedResolver_CancelledContext(t *testing.T) {
	inner := &countingResolver{md: sampleMetadata()}
	cache := newMapCache()
	cache.failAll = context.Canceled
	r := NewCachedResolver(inner, cache, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Resolve(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.calls)
}

func TestLoaderErrorUnwraps(t *testing.T) {
	err := error(&LoaderError{Err: ErrNotFound})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ErrNotFound.Error(), err.Error())
}

func TestCachedResolver_DropsCorruptEntry(t *testing.T) {
	inner := &countingResolver{md: sampleMetadata()}
	cache := newMapCache()
	cache.data[cacheKeyPrefix+"7"] = []byte(`{"document_id":"7"}`)
	r := NewCachedResolver(inner, cache, time.Minute)

	md, err := r.Resolve(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Oral History of X", md.Title)
	assert.Equal(t, 1, inner.calls)
	assert.NotContains(t, cache.data, cacheKeyPrefix+"7")
}

func TestValidate(t *testing.T) {
	ok := sampleMetadata()
	require.NoError(t, Validate(ok))

	noTitle := sampleMetadata()
	noTitle.Title = "  "
	assert.ErrorIs(t, Validate(noTitle), ErrMetadataUnavailable)

	badRole := sampleMetadata()
	badRole.Contributors = append(badRole.Contributors, entity.Contributor{Name: "C", Role: "narrator"})
	assert.ErrorIs(t, Validate(badRole), ErrMetadataUnavailable)

	assert.ErrorIs(t, Validate(nil), ErrMetadataUnavailable)
}
