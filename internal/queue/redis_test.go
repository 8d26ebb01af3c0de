package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newStreamsQueue(t *testing.T, opts Options) *RedisStreams {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStreamsFromClient(rdb, opts)
}

func TestRedisStreamsEnqueueDedup(t *testing.T) {
	q := newStreamsQueue(t, Options{})
	ctx := context.Background()
	_ = q.Enqueue(ctx, []byte("a"), "d1", "evt-1")
	_ = q.Enqueue(ctx, []byte("b"), "d1", "evt-1")

	msgs, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != "a" {
		t.Fatalf("dedup: %+v", msgs)
	}
	if err := q.Ack(ctx, msgs[0]); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := q.Receive(ctx, 10); len(msgs) != 0 {
		t.Fatalf("duplicate should not be delivered: %+v", msgs)
	}
}

func TestRedisStreamsPartitionSerialization(t *testing.T) {
	q := newStreamsQueue(t, Options{})
	ctx := context.Background()
	_ = q.Enqueue(ctx, []byte("first"), "d1", "e1")
	_ = q.Enqueue(ctx, []byte("second"), "d1", "e2")
	_ = q.Enqueue(ctx, []byte("other"), "d2", "e3")

	msgs, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("one per partition: got %d", len(msgs))
	}
	// d1 blocked while its message is pending
	if more, _ := q.Receive(ctx, 10); len(more) != 0 {
		t.Fatalf("partitions should be blocked: %+v", more)
	}
	for _, m := range msgs {
		if err := q.Ack(ctx, m); err != nil {
			t.Fatalf("ack %s: %v", m.ID, err)
		}
	}
	more, _ := q.Receive(ctx, 10)
	if len(more) != 1 || string(more[0].Body) != "second" {
		t.Fatalf("want second after ack, got %+v", more)
	}
}

func TestRedisStreamsDeadLetterAndRequeue(t *testing.T) {
	q := newStreamsQueue(t, Options{MaxAttempts: 1})
	ctx := context.Background()
	_ = q.Enqueue(ctx, []byte("poison"), "d1", "e1")

	msgs, _ := q.Receive(ctx, 1)
	if len(msgs) != 1 {
		t.Fatalf("receive: %+v", msgs)
	}
	if err := q.Nack(ctx, msgs[0], "boom"); err != nil {
		t.Fatal(err)
	}
	dead, err := q.ListDeadLetters(ctx, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("dlq: %v %+v", err, dead)
	}
	if dead[0].LastError != "boom" || string(dead[0].Body) != "poison" {
		t.Fatalf("dlq entry: %+v", dead[0])
	}
	if err := q.RequeueDeadLetter(ctx, dead[0].ID); err != nil {
		t.Fatal(err)
	}
	msgs, _ = q.Receive(ctx, 1)
	if len(msgs) != 1 || string(msgs[0].Body) != "poison" {
		t.Fatalf("requeue: %+v", msgs)
	}
}
