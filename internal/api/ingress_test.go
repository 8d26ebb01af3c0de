package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"fleettrack/internal/auth"
	"fleettrack/internal/model"
)

func signedRequest(t *testing.T, secret, path string, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", auth.Sign(secret, body))
	return req
}

func validPing() map[string]any {
	return map[string]any{
		"eventId":   "evt-12345678",
		"driverId":  "drv-1",
		"timestamp": "2026-03-01T08:00:00Z",
		"lat":       37.7749,
		"lng":       -122.4194,
		"speedKph":  12.5,
	}
}

func TestGPSWebhookAcceptsAndDedupes(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.GPSWebhookHandler(rr, signedRequest(t, "gps-test-secret", "/webhooks/gps", validPing()))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first delivery: got %d (%s)", rr.Code, rr.Body)
	}

	// retried delivery of the same eventId must not enqueue twice
	rr = httptest.NewRecorder()
	s.GPSWebhookHandler(rr, signedRequest(t, "gps-test-secret", "/webhooks/gps", validPing()))
	if rr.Code != http.StatusOK {
		t.Fatalf("replay: got %d (%s)", rr.Code, rr.Body)
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["deduped"] != true {
		t.Fatalf("replay body: %+v", out)
	}

	msgs, err := s.Queue.Receive(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("exactly one enqueue expected, got %d", len(msgs))
	}
	var env model.Envelope
	if err := json.Unmarshal(msgs[0].Body, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "gps" || env.Payload.EventID != "evt-12345678" {
		t.Fatalf("envelope: %+v", env)
	}
}

func TestGPSWebhookRejectsForgedSignature(t *testing.T) {
	s := newTestServer(t)

	req := signedRequest(t, "wrong-secret", "/webhooks/gps", validPing())
	rr := httptest.NewRecorder()
	s.GPSWebhookHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged signature: got %d", rr.Code)
	}

	body, _ := json.Marshal(validPing())
	req = httptest.NewRequest(http.MethodPost, "/webhooks/gps", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	s.GPSWebhookHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature: got %d", rr.Code)
	}
}

func TestGPSWebhookRejectsInvalidReport(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"latOutOfRange", func(m map[string]any) { m["lat"] = 91.0 }},
		{"lngOutOfRange", func(m map[string]any) { m["lng"] = -181.0 }},
		{"shortEventId", func(m map[string]any) { m["eventId"] = "short" }},
		{"missingDriver", func(m map[string]any) { delete(m, "driverId") }},
		{"badTimestamp", func(m map[string]any) { m["timestamp"] = "yesterday" }},
		{"negativeSpeed", func(m map[string]any) { m["speedKph"] = -4.0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ping := validPing()
			tc.mutate(ping)
			rr := httptest.NewRecorder()
			s.GPSWebhookHandler(rr, signedRequest(t, "gps-test-secret", "/webhooks/gps", ping))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("got %d (%s)", rr.Code, rr.Body)
			}
		})
	}
}

func TestGPSWebhookThrottles(t *testing.T) {
	s := newTestServer(t)
	s.limiter = rate.NewLimiter(1, 1)

	rr := httptest.NewRecorder()
	s.GPSWebhookHandler(rr, signedRequest(t, "gps-test-secret", "/webhooks/gps", validPing()))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("first: got %d", rr.Code)
	}
	ping := validPing()
	ping["eventId"] = "evt-87654321"
	rr = httptest.NewRecorder()
	s.GPSWebhookHandler(rr, signedRequest(t, "gps-test-secret", "/webhooks/gps", ping))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: got %d", rr.Code)
	}
}

func TestTMSWebhookUpsertsRoute(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]any{
		"routeId":    "rt-100",
		"driverId":   "drv-1",
		"shipmentId": "shp-9",
		"status":     model.RouteEnRoute,
		"stops": []map[string]any{
			{"id": "st-2", "type": model.StopDelivery, "sequence": 2, "lat": 1, "lng": 1, "radiusM": 120},
			{"id": "st-1", "type": model.StopPickup, "sequence": 1, "lat": 0, "lng": 0, "radiusM": 150},
		},
	}

	rr := httptest.NewRecorder()
	s.TMSWebhookHandler(rr, signedRequest(t, "tms-test-secret", "/webhooks/tms", payload))
	if rr.Code != http.StatusOK {
		t.Fatalf("tms upsert: got %d (%s)", rr.Code, rr.Body)
	}

	route, err := s.Routes.GetRoute(context.Background(), "rt-100")
	if err != nil {
		t.Fatal(err)
	}
	if route.DriverID != "drv-1" || route.Status != model.RouteEnRoute {
		t.Fatalf("stored route: %+v", route)
	}
	if len(route.Stops) != 2 || route.Stops[0].ID != "st-1" {
		t.Fatalf("stops should be ordered by sequence: %+v", route.Stops)
	}

	// the GPS secret must not open the TMS door
	rr = httptest.NewRecorder()
	s.TMSWebhookHandler(rr, signedRequest(t, "gps-test-secret", "/webhooks/tms", payload))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("cross-secret: got %d", rr.Code)
	}
}

func TestTMSWebhookRejectsBadRoute(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]any{
		"routeId":  "rt-101",
		"driverId": "drv-1",
		"stops": []map[string]any{
			{"type": "WAYPOINT", "lat": 0, "lng": 0},
		},
	}
	rr := httptest.NewRecorder()
	s.TMSWebhookHandler(rr, signedRequest(t, "tms-test-secret", "/webhooks/tms", payload))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d (%s)", rr.Code, rr.Body)
	}
}
