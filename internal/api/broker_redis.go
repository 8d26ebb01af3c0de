package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so live streams
// work when ingress and consumers run on different nodes.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	ps   map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisBrokerFromClient(redis.NewClient(opt)), nil
}

func NewRedisBrokerFromClient(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, ps: map[chan SSEEvent]*redis.PubSub{}}
}

func (b *RedisBroker) chanName(driverID string) string { return "events:driver:" + driverID }

func (b *RedisBroker) Subscribe(driverID string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ps := b.rdb.Subscribe(context.Background(), b.chanName(driverID))
	b.mu.Lock()
	b.ps[ch] = ps
	b.mu.Unlock()
	go func() {
		for msg := range ps.Channel() {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
		close(ch)
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(driverID string, ch chan SSEEvent) {
	b.mu.Lock()
	ps := b.ps[ch]
	delete(b.ps, ch)
	b.mu.Unlock()
	if ps != nil {
		// closing the PubSub ends the fanout goroutine, which closes ch
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(driverID string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(driverID), data).Err()
}
