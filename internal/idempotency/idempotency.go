// Package idempotency implements an at-most-once existence set keyed by
// caller-supplied event ids.
package idempotency

import (
	"context"
	"sync"
	"time"
)

// Store is a key/TTL existence set with an atomic insert-if-absent. Two
// concurrent PutIfAbsent calls with the same key must yield exactly one
// true.
type Store interface {
	PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Memory is the in-process Store used when no REDIS_URL is set.
type Memory struct {
	mu   sync.Mutex
	keys map[string]time.Time // key -> expiry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{keys: map[string]time.Time{}, now: time.Now}
}

func (m *Memory) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && exp.After(now) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	m.sweepLocked(now)
	return true, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.keys[key]
	return ok && exp.After(m.now()), nil
}

// sweepLocked drops expired keys opportunistically so the map does not grow
// without bound.
func (m *Memory) sweepLocked(now time.Time) {
	if len(m.keys) < 4096 {
		return
	}
	for k, exp := range m.keys {
		if !exp.After(now) {
			delete(m.keys, k)
		}
	}
}
