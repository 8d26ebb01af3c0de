package queue

import (
	"context"
	"fmt"
	"os"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// RedisStreams implements Queue on Redis Streams with one stream per
// partition and a single consumer group. Pending entries older than the
// visibility window are reclaimed with XAUTOCLAIM, which also gives us the
// delivery attempt count.
type RedisStreams struct {
	rdb      *redis.Client
	opts     Options
	group    string
	consumer string
}

const (
	redisPartitionsKey = "q:gps:parts"
	redisStreamPrefix  = "q:gps:s:"
	redisDedupPrefix   = "q:gps:dedup:"
	redisDLQKey        = "q:gps:dlq"
)

func NewRedisStreams(url string, opts Options) (*RedisStreams, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStreamsFromClient(redis.NewClient(opt), opts), nil
}

// NewRedisStreamsFromClient wraps an existing client (used by tests).
func NewRedisStreamsFromClient(rdb *redis.Client, opts Options) *RedisStreams {
	host, _ := os.Hostname()
	return &RedisStreams{
		rdb:      rdb,
		opts:     opts.withDefaults(),
		group:    "geofence",
		consumer: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

func (q *RedisStreams) stream(pk string) string { return redisStreamPrefix + pk }

func (q *RedisStreams) Enqueue(ctx context.Context, body []byte, partitionKey, dedupKey string) error {
	if dedupKey != "" {
		ok, err := q.rdb.SetNX(ctx, redisDedupPrefix+dedupKey, "1", q.opts.DedupTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	if err := q.rdb.SAdd(ctx, redisPartitionsKey, partitionKey).Err(); err != nil {
		return err
	}
	if err := q.ensureGroup(ctx, q.stream(partitionKey)); err != nil {
		return err
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream(partitionKey),
		Values: map[string]any{"body": string(body), "pk": partitionKey, "dedup": dedupKey},
	}).Err()
}

// Receive visits each known partition and hands out at most one message per
// partition: first any entry whose visibility window has lapsed, else the
// next new entry, but never while another entry is still pending.
func (q *RedisStreams) Receive(ctx context.Context, max int) ([]Message, error) {
	parts, err := q.rdb.SMembers(ctx, redisPartitionsKey).Result()
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 10
	}
	var out []Message
	for _, pk := range parts {
		if len(out) >= max {
			break
		}
		stream := q.stream(pk)
		if err := q.ensureGroup(ctx, stream); err != nil {
			return nil, err
		}
		// reclaim a timed-out delivery first
		claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.opts.VisibilityTimeout,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		if len(claimed) > 0 {
			out = append(out, q.toMessage(ctx, stream, pk, claimed[0]))
			continue
		}
		// skip the partition while a delivery is still in flight
		pending, err := q.rdb.XPending(ctx, stream, q.group).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		if pending != nil && pending.Count > 0 {
			continue
		}
		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    -1,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, st := range res {
			for _, xm := range st.Messages {
				out = append(out, q.toMessage(ctx, stream, pk, xm))
			}
		}
	}
	return out, nil
}

func (q *RedisStreams) toMessage(ctx context.Context, stream, pk string, xm redis.XMessage) Message {
	m := Message{ID: xm.ID, PartitionKey: pk, Attempts: 1}
	if v, ok := xm.Values["body"].(string); ok {
		m.Body = []byte(v)
	}
	if v, ok := xm.Values["dedup"].(string); ok {
		m.DedupKey = v
	}
	ext, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  q.group,
		Start:  xm.ID,
		End:    xm.ID,
		Count:  1,
	}).Result()
	if err == nil && len(ext) > 0 {
		m.Attempts = int(ext[0].RetryCount)
	}
	return m
}

func (q *RedisStreams) Ack(ctx context.Context, m Message) error {
	stream := q.stream(m.PartitionKey)
	if err := q.rdb.XAck(ctx, stream, q.group, m.ID).Err(); err != nil {
		return err
	}
	return q.rdb.XDel(ctx, stream, m.ID).Err()
}

// Nack leaves the entry pending so XAUTOCLAIM redelivers it after the
// visibility window, unless the retry budget is spent, in which case it is
// moved to the dead-letter stream.
func (q *RedisStreams) Nack(ctx context.Context, m Message, reason string) error {
	if m.Attempts < q.opts.MaxAttempts {
		return nil
	}
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: redisDLQKey,
		Values: map[string]any{
			"body": string(m.Body), "pk": m.PartitionKey, "dedup": m.DedupKey,
			"attempts": m.Attempts, "error": reason,
		},
	}).Err()
	if err != nil {
		return err
	}
	return q.Ack(ctx, m)
}

func (q *RedisStreams) ListDeadLetters(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	items, err := q.rdb.XRangeN(ctx, redisDLQKey, "-", "+", int64(limit)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(items))
	for _, xm := range items {
		m := Message{ID: xm.ID}
		if v, ok := xm.Values["body"].(string); ok {
			m.Body = []byte(v)
		}
		if v, ok := xm.Values["pk"].(string); ok {
			m.PartitionKey = v
		}
		if v, ok := xm.Values["dedup"].(string); ok {
			m.DedupKey = v
		}
		if v, ok := xm.Values["error"].(string); ok {
			m.LastError = v
		}
		if v, ok := xm.Values["attempts"].(string); ok {
			fmt.Sscanf(v, "%d", &m.Attempts)
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *RedisStreams) RequeueDeadLetter(ctx context.Context, id string) error {
	items, err := q.rdb.XRange(ctx, redisDLQKey, id, id).Result()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrNotFound
	}
	xm := items[0]
	pk, _ := xm.Values["pk"].(string)
	body, _ := xm.Values["body"].(string)
	// dedup key intentionally dropped: the requeue is an operator decision
	if err := q.Enqueue(ctx, []byte(body), pk, ""); err != nil {
		return err
	}
	return q.rdb.XDel(ctx, redisDLQKey, id).Err()
}

func (q *RedisStreams) ensureGroup(ctx context.Context, stream string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}
