package claims

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryClaimIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Claim(ctx, "attendance:1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("claims won = %d, want 1", wins.Load())
	}

	if err := m.Release(ctx, "attendance:1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := m.Claim(ctx, "attendance:1"); !ok {
		t.Fatal("claim after release should succeed")
	}
}

func TestMemoryClaimExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory(time.Second)

	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if ok, _ := m.Claim(ctx, "k"); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := m.Claim(ctx, "k"); ok {
		t.Fatal("held claim should be refused")
	}

	now = now.Add(2 * time.Second)
	if ok, _ := m.Claim(ctx, "k"); !ok {
		t.Fatal("expired claim should be granted again")
	}
}

func TestNewRedisValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewRedis(nil, time.Minute); err == nil {
		t.Fatal("expected error for nil client")
	}

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewRedis(client, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
