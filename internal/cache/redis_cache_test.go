package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisCache(rdb), mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	if err := c.SetJSON(ctx, "resctx:c-1", payload{Name: "Vendas", Count: 2}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	hit, err := c.GetJSON(ctx, "resctx:c-1", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hit || got.Name != "Vendas" {
		t.Fatalf("hit=%v got=%+v", hit, got)
	}
}

func TestRedisCache_MissIsNotAnError(t *testing.T) {
	c, _ := newRedisCache(t)

	var got payload
	hit, err := c.GetJSON(context.Background(), "absent", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatal("hit on absent key")
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{Name: "x"}, 30*time.Second)

	mr.FastForward(time.Minute)

	var got payload
	if hit, _ := c.GetJSON(ctx, "k", &got); hit {
		t.Fatal("hit after TTL expiry")
	}
}

func TestRedisCache_CorruptEntryEvicted(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	mr.Set("k", "{not json")

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hit {
		t.Fatal("corrupt entry reported as hit")
	}
	if mr.Exists("k") {
		t.Fatal("corrupt entry not evicted")
	}
}

func TestRedisCache_Del(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.SetJSON(ctx, "a", payload{}, 0)
	c.SetJSON(ctx, "b", payload{}, 0)

	if err := c.Del(ctx, "a", "b"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if mr.Exists("a") || mr.Exists("b") {
		t.Fatal("keys survived delete")
	}
	if err := c.Del(ctx); err != nil {
		t.Fatalf("empty del: %v", err)
	}
}
