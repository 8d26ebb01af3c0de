package api

import (
	"context"
)

// BrokerSink adapts an EventBroker into an event bus sink so every domain
// event also reaches live SSE/WebSocket subscribers.
type BrokerSink struct {
	Broker EventBroker
}

func (s BrokerSink) Publish(ctx context.Context, eventType string, detail map[string]any, source string) error {
	driverID, _ := detail["driverId"].(string)
	if driverID == "" {
		return nil
	}
	s.Broker.Publish(driverID, SSEEvent{Type: eventType, Data: detail})
	return nil
}
