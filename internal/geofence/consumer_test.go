package geofence

import (
	"context"
	"encoding/json"
	"testing"

	"fleettrack/internal/model"
	"fleettrack/internal/queue"
)

func newTestConsumer(t *testing.T, q queue.Queue) (*Consumer, *fixture) {
	t.Helper()
	f := newFixture(t)
	c := NewConsumer(q, f.proc)
	return c, f
}

func enqueueGPS(t *testing.T, q queue.Queue, rep model.PositionReport) {
	t.Helper()
	body, err := json.Marshal(model.Envelope{Type: "gps", Payload: rep, ReceivedAt: rep.Timestamp})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(context.Background(), body, rep.DriverID, rep.EventID); err != nil {
		t.Fatal(err)
	}
}

func TestConsumerAcksProcessedReports(t *testing.T) {
	q := queue.NewMemory(queue.Options{})
	c, f := newTestConsumer(t, q)
	driverID, _ := f.seedTwoStopRoute(t)

	enqueueGPS(t, q, ping(driverID, "evt-00000001", 0.0005, 0, 5))
	enqueueGPS(t, q, ping(driverID, "evt-00000002", 0.0005, 0, 5))

	// same partition: the second record is withheld until the first acks
	c.processOnce(context.Background())
	c.processOnce(context.Background())

	if d := q.Depth(); d != 0 {
		t.Fatalf("queue should drain, depth=%d", d)
	}
	st, err := f.states.Get(context.Background(), driverID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != model.PhaseAtStop {
		t.Fatalf("both reports should have been applied in order: %+v", st)
	}
}

func TestConsumerDeadLettersMalformedBody(t *testing.T) {
	q := queue.NewMemory(queue.Options{MaxAttempts: 1})
	c, _ := newTestConsumer(t, q)

	if err := q.Enqueue(context.Background(), []byte("{not json"), "drv-1", "evt-bad00001"); err != nil {
		t.Fatal(err)
	}
	c.processOnce(context.Background())

	dead, err := q.ListDeadLetters(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("poison message should dead-letter, got %d", len(dead))
	}
	if dead[0].LastError == "" {
		t.Fatalf("dead letter should record the failure: %+v", dead[0])
	}
}

func TestConsumerAcksUnknownType(t *testing.T) {
	q := queue.NewMemory(queue.Options{})
	c, _ := newTestConsumer(t, q)

	body, _ := json.Marshal(model.Envelope{Type: "telemetry"})
	if err := q.Enqueue(context.Background(), body, "drv-1", "evt-odd00001"); err != nil {
		t.Fatal(err)
	}
	c.processOnce(context.Background())

	if d := q.Depth(); d != 0 {
		t.Fatalf("unknown types should be acked, depth=%d", d)
	}
	if dead, _ := q.ListDeadLetters(context.Background(), 10); len(dead) != 0 {
		t.Fatalf("unknown types must not dead-letter: %+v", dead)
	}
}

func TestConsumerBatchIsolation(t *testing.T) {
	q := queue.NewMemory(queue.Options{MaxAttempts: 1})
	c, f := newTestConsumer(t, q)
	driverID, _ := f.seedTwoStopRoute(t)

	// one poison record on another partition must not block this driver
	if err := q.Enqueue(context.Background(), []byte("oops"), "drv-poison", "evt-bad00001"); err != nil {
		t.Fatal(err)
	}
	enqueueGPS(t, q, ping(driverID, "evt-00000001", 0.5, 0.5, 60))

	c.processOnce(context.Background())

	st, err := f.states.Get(context.Background(), driverID)
	if err != nil {
		t.Fatalf("healthy partition should still process: %v", err)
	}
	if st.Phase != model.PhaseEnroute {
		t.Fatalf("route binding missing: %+v", st)
	}
	if dead, _ := q.ListDeadLetters(context.Background(), 10); len(dead) != 1 {
		t.Fatalf("poison record should be isolated in the DLQ: %+v", dead)
	}
}
