package ingest

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// flightGroup deduplicates concurrent ingests of the same content. The shared
// run gets a context detached from whichever caller started it; that context
// is cancelled only after every waiting caller has returned.
type flightGroup struct {
	group singleflight.Group

	mu    sync.Mutex
	calls map[string]*flight
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (g *flightGroup) do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := g.join(ctx, key)
	defer g.leave(key, f)

	ch := g.group.DoChan(key, func() (any, error) {
		return fn(f.ctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *flightGroup) join(ctx context.Context, key string) *flight {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.calls == nil {
		g.calls = make(map[string]*flight)
	}
	f, ok := g.calls[key]
	if !ok {
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: shared, cancel: cancel}
		g.calls[key] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter. The last one out cancels the shared run and forgets
// the key, so a later caller starts fresh instead of joining a cancelled run.
func (g *flightGroup) leave(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if g.calls[key] == f {
		delete(g.calls, key)
	}
	g.group.Forget(key)
}
