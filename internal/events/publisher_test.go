package events

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// Recorder collects published events for assertions in this and other
// packages' tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
	Err    error
}

type Recorded struct {
	Type   string
	Detail map[string]any
	Source string
}

func (r *Recorder) Publish(ctx context.Context, eventType string, detail map[string]any, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, Recorded{Type: eventType, Detail: detail, Source: source})
	return nil
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}

func TestBusFansOut(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{}
	bus := NewBus(a, b)
	bus.Emit(context.Background(), "gps.received", map[string]any{"driverId": "d1"}, "logistics.ingest")
	if len(a.Events) != 1 || len(b.Events) != 1 {
		t.Fatalf("fan-out: a=%d b=%d", len(a.Events), len(b.Events))
	}
	if a.Events[0].Source != "logistics.ingest" {
		t.Fatalf("source: %+v", a.Events[0])
	}
}

func TestBusSinkFailureIsIsolated(t *testing.T) {
	bad := &Recorder{Err: errors.New("broker down")}
	good := &Recorder{}
	bus := NewBus(bad, good)
	bus.Emit(context.Background(), "driver.departed.stop", map[string]any{}, "logistics.detector")
	if len(good.Events) != 1 {
		t.Fatal("healthy sink should still receive the event")
	}
}

func TestBusEmptyIsNoop(t *testing.T) {
	bus := NewBus()
	// must be safe with no configured backend
	bus.Emit(context.Background(), "tms.updated", nil, "tms")
}
