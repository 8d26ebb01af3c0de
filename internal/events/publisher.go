// Package events publishes derived business events to downstream
// consumers. Delivery is fire-and-forget: failures are logged and never
// propagate into the state write that produced the event.
package events

import (
	"context"
	"log"

	"fleettrack/internal/metrics"
)

// Publisher is a single event sink.
type Publisher interface {
	Publish(ctx context.Context, eventType string, detail map[string]any, source string) error
}

// Noop is the backend used when nothing is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, eventType string, detail map[string]any, source string) error {
	return nil
}

// Bus fans an event out to every sink. Emit never fails; sink errors are
// logged with the event type and counted.
type Bus struct {
	sinks []Publisher
}

func NewBus(sinks ...Publisher) *Bus {
	if len(sinks) == 0 {
		sinks = []Publisher{Noop{}}
	}
	return &Bus{sinks: sinks}
}

func (b *Bus) Emit(ctx context.Context, eventType string, detail map[string]any, source string) {
	for _, s := range b.sinks {
		if err := s.Publish(ctx, eventType, detail, source); err != nil {
			log.Printf("event publish failed type=%s: %v", eventType, err)
			metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
			continue
		}
		metrics.EventsPublished.WithLabelValues(eventType, "ok").Inc()
	}
}
