package cache

import (
	"context"
	"testing"
	"time"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.SetJSON(ctx, "k", payload{Name: "planilha", Count: 3}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got payload
	hit, err := c.GetJSON(ctx, "k", &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !hit {
		t.Fatal("want hit")
	}
	if got.Name != "planilha" || got.Count != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestMemoryCache_MissAndDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var got payload
	if hit, _ := c.GetJSON(ctx, "absent", &got); hit {
		t.Fatal("hit on absent key")
	}

	c.SetJSON(ctx, "k", payload{Name: "x"}, 0)
	if err := c.Del(ctx, "k", "also-absent"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if hit, _ := c.GetJSON(ctx, "k", &got); hit {
		t.Fatal("hit after delete")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{Name: "x"}, 15*time.Millisecond)

	var got payload
	if hit, _ := c.GetJSON(ctx, "k", &got); !hit {
		t.Fatal("want hit before expiry")
	}

	time.Sleep(30 * time.Millisecond)
	if hit, _ := c.GetJSON(ctx, "k", &got); hit {
		t.Fatal("hit after expiry")
	}
}

func TestMemoryCache_LastWriteWins(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{Count: 1}, 0)
	c.SetJSON(ctx, "k", payload{Count: 2}, 0)

	var got payload
	c.GetJSON(ctx, "k", &got)
	if got.Count != 2 {
		t.Fatalf("count = %d, want latest write", got.Count)
	}
}
