package lookup

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	logx "bioscout/pkg/logx"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()
	c := NewRedisCache(rdb, "bioscout:test:"+t.Name()+":", logx.Nop())

	r := Result{
		Target:     "6281234567890",
		Category:   CategoryHasBio,
		Bio:        "Open 9-5",
		Enrichment: &Enrichment{AccountType: AccountBusiness, IsBusiness: true, Websites: []string{"https://shop.example"}},
	}
	c.Set(ctx, r.Target, r, time.Minute)
	t.Cleanup(func() { rdb.Del(context.Background(), "bioscout:test:"+t.Name()+":"+r.Target) })

	got, ok := c.Get(ctx, r.Target)
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Bio != r.Bio || got.Enrichment == nil || got.Enrichment.Websites[0] != "https://shop.example" {
		t.Fatalf("got %+v", got)
	}
	ttl := rdb.TTL(ctx, "bioscout:test:"+t.Name()+":"+r.Target).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestRedisCacheUnavailableIsMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	c := NewRedisCache(rdb, "", logx.Nop())

	c.Set(context.Background(), "x", Result{Category: CategoryNoBio}, time.Minute)
	if _, ok := c.Get(context.Background(), "x"); ok {
		t.Fatal("expected miss when redis is down")
	}
}
