package query

import (
	"context"
	"sync"
)

// gate serializes mutations whose affected key sets overlap. Mutations on
// disjoint keys run concurrently.
type gate struct {
	mu     sync.Mutex
	active map[*ticket]struct{}
}

type ticket struct {
	keys []Key
	done chan struct{}
}

func newGate() *gate {
	return &gate{active: make(map[*ticket]struct{})}
}

// acquire blocks until no active ticket overlaps keys, then holds them until
// the returned release is called.
func (g *gate) acquire(ctx context.Context, keys []Key) (func(), error) {
	t := &ticket{keys: keys, done: make(chan struct{})}
	for {
		g.mu.Lock()
		var blocker *ticket
		for other := range g.active {
			if overlaps(other.keys, keys) {
				blocker = other
				break
			}
		}
		if blocker == nil {
			g.active[t] = struct{}{}
			g.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					g.mu.Lock()
					delete(g.active, t)
					g.mu.Unlock()
					close(t.done)
				})
			}, nil
		}
		g.mu.Unlock()

		select {
		case <-blocker.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
