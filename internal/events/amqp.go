package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "fleet.events"

// AMQP publishes domain events to a fanout exchange so any number of
// downstream consumers can bind their own queues.
type AMQP struct {
	ch *amqp.Channel
}

func NewAMQP(url string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQP{ch: ch}, nil
}

type envelope struct {
	Type   string         `json:"type"`
	Source string         `json:"source"`
	TS     string         `json:"ts"`
	Detail map[string]any `json:"detail"`
}

func (p *AMQP) Publish(ctx context.Context, eventType string, detail map[string]any, source string) error {
	body, err := json.Marshal(envelope{
		Type:   eventType,
		Source: source,
		TS:     time.Now().UTC().Format(time.RFC3339),
		Detail: detail,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
