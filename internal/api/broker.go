package api

import (
	"sync"
)

// SSEEvent is one live event delivered to stream subscribers.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans domain events out to live subscribers, keyed by driver.
// Delivery is best-effort; a slow subscriber drops events rather than
// backpressuring the detector.
type EventBroker interface {
	Subscribe(driverID string) chan SSEEvent
	Unsubscribe(driverID string, ch chan SSEEvent)
	Publish(driverID string, evt SSEEvent)
}

// Broker is the in-process EventBroker used by single-node deployments.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // driverId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(driverID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[driverID] == nil {
		b.subs[driverID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[driverID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(driverID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[driverID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, driverID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(driverID string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[driverID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
