package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisFromClient(rdb), mr
}

func TestRedisPutIfAbsent(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	if ok, err := s.PutIfAbsent(ctx, "evt-1", time.Minute); err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	if ok, err := s.PutIfAbsent(ctx, "evt-1", time.Minute); err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
	}
	if exists, err := s.Exists(ctx, "evt-1"); err != nil || !exists {
		t.Fatalf("exists: %v %v", exists, err)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	if ok, _ := s.PutIfAbsent(ctx, "evt-1", time.Minute); !ok {
		t.Fatal("first insert should win")
	}
	mr.FastForward(2 * time.Minute)
	if exists, _ := s.Exists(ctx, "evt-1"); exists {
		t.Fatal("expired key should not exist")
	}
	if ok, _ := s.PutIfAbsent(ctx, "evt-1", time.Minute); !ok {
		t.Fatal("insert after expiry should win")
	}
}
