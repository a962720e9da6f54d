package lookup

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Deduplicator collapses concurrent lookups of the same key into one network
// call. The key is forgotten as soon as the call returns.
type Deduplicator struct {
	g singleflight.Group

	mu       sync.Mutex
	inflight map[string]int
	joined   atomic.Int64
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{inflight: map[string]int{}}
}

// Do runs fn once per key among concurrent callers. A caller whose ctx ends
// stops waiting; the shared call keeps running for the others.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func() (Result, error)) (Result, error) {
	d.mu.Lock()
	if d.inflight[key] > 0 {
		d.joined.Add(1)
		DedupJoined.Inc()
	}
	d.inflight[key]++
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.inflight[key]--; d.inflight[key] <= 0 {
			delete(d.inflight, key)
		}
		d.mu.Unlock()
	}()

	ch := d.g.DoChan(key, func() (any, error) { return fn() })
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		r, _ := res.Val.(Result)
		return r, res.Err
	}
}

// Joined is how many callers attached to an already running call.
func (d *Deduplicator) Joined() int64 { return d.joined.Load() }

// Inflight is the number of keys currently being fetched.
func (d *Deduplicator) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
