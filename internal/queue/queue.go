// Package queue provides the at-least-once delivery channel between the
// ingress and the geofence processor, with per-partition ordering and a
// dead-letter channel for messages that exhaust their retry budget.
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("message not found")

// Message is one queued report plus its delivery bookkeeping.
type Message struct {
	ID           string `json:"id"`
	PartitionKey string `json:"partitionKey"`
	DedupKey     string `json:"dedupKey"`
	Body         []byte `json:"body"`
	Attempts     int    `json:"attempts"`
	LastError    string `json:"lastError,omitempty"`
}

// Queue is the durable channel contract. Delivery is at-least-once: a
// received message stays invisible for the visibility window and is
// redelivered if not acked in time. Ordering holds only among messages
// sharing a partition key; a partition never has more than one message in
// flight.
type Queue interface {
	Enqueue(ctx context.Context, body []byte, partitionKey, dedupKey string) error
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, m Message) error
	// Nack makes the message eligible for redelivery, or routes it to the
	// dead-letter channel when its attempts exceed the budget.
	Nack(ctx context.Context, m Message, reason string) error

	ListDeadLetters(ctx context.Context, limit int) ([]Message, error)
	RequeueDeadLetter(ctx context.Context, id string) error
}

// Options tune delivery behaviour; zero values get defaults.
type Options struct {
	VisibilityTimeout time.Duration
	MaxAttempts       int
	DedupTTL          time.Duration
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 24 * time.Hour
	}
	return o
}
