package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process Queue used when no REDIS_URL is set. Partitions
// are plain FIFO slices; at most one message per partition is in flight, so
// same-partition messages are applied strictly in arrival order.
type Memory struct {
	mu    sync.Mutex
	opts  Options
	seq   int64
	parts map[string][]*memMsg // partitionKey -> pending, FIFO
	order []string             // partition round-robin order
	next  int
	infl  map[string]*memMsg // partitionKey -> in-flight message
	dedup map[string]time.Time
	dlq   []*memMsg
	now   func() time.Time
}

type memMsg struct {
	Message
	deadline time.Time
}

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:  opts.withDefaults(),
		parts: map[string][]*memMsg{},
		infl:  map[string]*memMsg{},
		dedup: map[string]time.Time{},
		now:   time.Now,
	}
}

func (q *Memory) Enqueue(ctx context.Context, body []byte, partitionKey, dedupKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	if dedupKey != "" {
		if exp, ok := q.dedup[dedupKey]; ok && exp.After(now) {
			return nil
		}
		q.dedup[dedupKey] = now.Add(q.opts.DedupTTL)
	}
	q.seq++
	m := &memMsg{Message: Message{
		ID:           fmt.Sprintf("msg_%d", q.seq),
		PartitionKey: partitionKey,
		DedupKey:     dedupKey,
		Body:         body,
	}}
	if _, ok := q.parts[partitionKey]; !ok {
		q.order = append(q.order, partitionKey)
	}
	q.parts[partitionKey] = append(q.parts[partitionKey], m)
	return nil
}

// Receive hands out up to max messages, at most one per partition, skipping
// partitions that already have a message in flight.
func (q *Memory) Receive(ctx context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	q.reapExpiredLocked(now)
	if max <= 0 {
		max = 10
	}
	var out []Message
	n := len(q.order)
	for i := 0; i < n && len(out) < max; i++ {
		pk := q.order[(q.next+i)%n]
		if _, busy := q.infl[pk]; busy {
			continue
		}
		pending := q.parts[pk]
		if len(pending) == 0 {
			continue
		}
		m := pending[0]
		q.parts[pk] = pending[1:]
		m.Attempts++
		m.deadline = now.Add(q.opts.VisibilityTimeout)
		q.infl[pk] = m
		out = append(out, m.Message)
	}
	if n > 0 {
		q.next = (q.next + 1) % n
	}
	return out, nil
}

func (q *Memory) Ack(ctx context.Context, m Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.infl[m.PartitionKey]
	if !ok || cur.ID != m.ID {
		return ErrNotFound
	}
	delete(q.infl, m.PartitionKey)
	return nil
}

func (q *Memory) Nack(ctx context.Context, m Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur, ok := q.infl[m.PartitionKey]
	if !ok || cur.ID != m.ID {
		return ErrNotFound
	}
	delete(q.infl, m.PartitionKey)
	cur.LastError = reason
	if cur.Attempts >= q.opts.MaxAttempts {
		q.dlq = append(q.dlq, cur)
		return nil
	}
	// back to the head so partition order is preserved
	q.parts[m.PartitionKey] = append([]*memMsg{cur}, q.parts[m.PartitionKey]...)
	return nil
}

func (q *Memory) ListDeadLetters(ctx context.Context, limit int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dlq) {
		limit = len(q.dlq)
	}
	out := make([]Message, 0, limit)
	for _, m := range q.dlq[:limit] {
		out = append(out, m.Message)
	}
	return out, nil
}

func (q *Memory) RequeueDeadLetter(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.dlq {
		if m.ID == id {
			q.dlq = append(q.dlq[:i], q.dlq[i+1:]...)
			m.Attempts = 0
			m.LastError = ""
			if _, ok := q.parts[m.PartitionKey]; !ok {
				q.order = append(q.order, m.PartitionKey)
			}
			q.parts[m.PartitionKey] = append(q.parts[m.PartitionKey], m)
			return nil
		}
	}
	return ErrNotFound
}

// Depth reports pending messages across partitions, for metrics and tests.
func (q *Memory) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.infl)
	for _, p := range q.parts {
		n += len(p)
	}
	return n
}

// reapExpiredLocked returns timed-out in-flight messages to the head of
// their partition so they are redelivered.
func (q *Memory) reapExpiredLocked(now time.Time) {
	var expired []string
	for pk, m := range q.infl {
		if m.deadline.Before(now) {
			expired = append(expired, pk)
		}
	}
	sort.Strings(expired)
	for _, pk := range expired {
		m := q.infl[pk]
		delete(q.infl, pk)
		q.parts[pk] = append([]*memMsg{m}, q.parts[pk]...)
	}
}
