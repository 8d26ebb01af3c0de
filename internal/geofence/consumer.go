package geofence

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
	"fleettrack/internal/queue"
)

// Consumer drains the report queue and feeds the processor. Records in a
// batch come from distinct partitions, so they are processed in parallel;
// a record failing is nacked on its own and never blocks the rest of the
// batch.
type Consumer struct {
	Queue     queue.Queue
	Processor *Processor
	BatchSize int
	Poll      time.Duration
	Stop      chan struct{}
}

func NewConsumer(q queue.Queue, p *Processor) *Consumer {
	return &Consumer{
		Queue:     q,
		Processor: p,
		BatchSize: 10,
		Poll:      250 * time.Millisecond,
		Stop:      make(chan struct{}),
	}
}

func (c *Consumer) Start() {
	go func() {
		ticker := time.NewTicker(c.Poll)
		defer ticker.Stop()
		for {
			select {
			case <-c.Stop:
				return
			case <-ticker.C:
				c.processOnce(context.Background())
			}
		}
	}()
}

func (c *Consumer) processOnce(ctx context.Context) {
	msgs, err := c.Queue.Receive(ctx, c.BatchSize)
	if err != nil {
		log.Printf("queue receive: %v", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, m := range msgs {
		wg.Add(1)
		go func(m queue.Message) {
			defer wg.Done()
			c.handle(ctx, m)
		}(m)
	}
	wg.Wait()
}

func (c *Consumer) handle(ctx context.Context, m queue.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Body, &env); err != nil {
		log.Printf("malformed envelope partition=%s id=%s: %v", m.PartitionKey, m.ID, err)
		metrics.ProcessedReports.WithLabelValues("dead_letter").Inc()
		_ = c.Queue.Nack(ctx, m, "malformed envelope: "+err.Error())
		return
	}
	if env.Type != "gps" {
		log.Printf("ignoring message type=%q partition=%s", env.Type, m.PartitionKey)
		_ = c.Queue.Ack(ctx, m)
		return
	}
	rep := env.Payload
	if err := c.Processor.ProcessReport(ctx, rep); err != nil {
		log.Printf("process failed driverId=%s eventId=%s attempt=%d: %v",
			rep.DriverID, rep.EventID, m.Attempts, err)
		metrics.ProcessedReports.WithLabelValues("retry").Inc()
		if err := c.Queue.Nack(ctx, m, err.Error()); err != nil {
			log.Printf("nack failed id=%s: %v", m.ID, err)
		}
		return
	}
	metrics.ProcessedReports.WithLabelValues("ok").Inc()
	if err := c.Queue.Ack(ctx, m); err != nil {
		log.Printf("ack failed id=%s: %v", m.ID, err)
	}
}
