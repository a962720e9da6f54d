package lookup

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(clk.now)

	r := Result{Target: "6281234567890", Category: CategoryHasBio, Bio: "hi"}
	c.Set(ctx, r.Target, r, time.Hour)

	clk.advance(time.Hour - time.Second)
	if got, ok := c.Get(ctx, r.Target); !ok || got.Bio != "hi" {
		t.Fatalf("Get before expiry = %+v, %v", got, ok)
	}
	clk.advance(2 * time.Second)
	if _, ok := c.Get(ctx, r.Target); ok {
		t.Fatal("entry served past expiry")
	}
	if n := c.Len(); n != 0 {
		t.Fatalf("Len = %d, expired entry not dropped on read", n)
	}
}

func TestMemoryCacheSkipsZeroTTL(t *testing.T) {
	c := NewMemoryCache(nil)
	c.Set(context.Background(), "x", Result{Category: CategoryError}, DefaultTTLs()[CategoryError])
	if c.Len() != 0 {
		t.Fatal("error results must not be cached")
	}
}

func TestMemoryCacheSweep(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemoryCache(clk.now)
	ttl := DefaultTTLs()
	c.Set(ctx, "a", Result{Category: CategoryRateLimit}, ttl[CategoryRateLimit])
	c.Set(ctx, "b", Result{Category: CategoryNoBio}, ttl[CategoryNoBio])
	c.Set(ctx, "c", Result{Category: CategoryHasBio}, ttl[CategoryHasBio])

	clk.advance(6 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	clk.advance(5 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}
