package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fleettrack/internal/config"
	"fleettrack/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		GPSSecret:         "gps-test-secret",
		TMSSecret:         "tms-test-secret",
		ArriveRadiusM:     150,
		DepartExitRadiusM: 200,
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRouteLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := postJSON(t, s.DriversIndexHandler, "/v1/drivers", map[string]any{"name": "grace"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create driver: got %d (%s)", rr.Code, rr.Body)
	}
	var drv model.Driver
	if err := json.Unmarshal(rr.Body.Bytes(), &drv); err != nil {
		t.Fatal(err)
	}

	rr = postJSON(t, s.RoutesIndexHandler, "/v1/routes", map[string]any{
		"driverId": drv.ID,
		"stops": []map[string]any{
			{"type": model.StopPickup, "lat": 0, "lng": 0, "radiusM": 150},
			{"type": model.StopDelivery, "lat": 1, "lng": 1, "radiusM": 150},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create route: got %d (%s)", rr.Code, rr.Body)
	}
	var route model.Route
	if err := json.Unmarshal(rr.Body.Bytes(), &route); err != nil {
		t.Fatal(err)
	}
	if route.Status != model.RoutePlanned || len(route.Stops) != 2 {
		t.Fatalf("created route: %+v", route)
	}

	rr = httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/routes/"+route.RouteID+"/assign", nil))
	if rr.Code != 200 {
		t.Fatalf("assign: got %d (%s)", rr.Code, rr.Body)
	}

	rr = httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/"+route.RouteID, nil))
	if rr.Code != 200 {
		t.Fatalf("get route: got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &route); err != nil {
		t.Fatal(err)
	}
	if route.Status != model.RouteEnRoute {
		t.Fatalf("assign should set EN_ROUTE: %+v", route)
	}

	rr = httptest.NewRecorder()
	s.DriverByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/"+drv.ID+"/routes", nil))
	if rr.Code != 200 {
		t.Fatalf("driver routes: got %d", rr.Code)
	}
}

func TestRouteNotFound(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.RouteByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/routes/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d", rr.Code)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != http.StatusNotFound || p.Title == "" {
		t.Fatalf("problem body: %+v", p)
	}
}

func TestDriverStateEndpoint(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.DriverByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/drv-1/state", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("no state yet: got %d", rr.Code)
	}

	st := model.NewDriverState("drv-1")
	st.Phase = model.PhaseEnroute
	st.RouteID = "rt-1"
	if _, err := s.States.Put(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	rr = httptest.NewRecorder()
	s.DriverByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/drivers/drv-1/state", nil))
	if rr.Code != 200 {
		t.Fatalf("get state: got %d (%s)", rr.Code, rr.Body)
	}
	var got model.DriverState
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Phase != model.PhaseEnroute || got.RouteID != "rt-1" || got.Version != 1 {
		t.Fatalf("state body: %+v", got)
	}
}

func TestDLQAdmin(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if err := s.Queue.Enqueue(ctx, []byte("broken"), "drv-1", "evt-dead0001"); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.Queue.Receive(ctx, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v %d", err, len(msgs))
	}
	// exhaust the delivery budget so the message dead-letters
	for i := 0; i < 5; i++ {
		if err := s.Queue.Nack(ctx, msgs[0], "kaput"); err != nil {
			t.Fatal(err)
		}
		more, err := s.Queue.Receive(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(more) == 0 {
			break
		}
		msgs = more
	}

	rr := httptest.NewRecorder()
	s.DLQHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/dlq", nil))
	if rr.Code != 200 {
		t.Fatalf("list dlq: got %d (%s)", rr.Code, rr.Body)
	}
	var out struct {
		Items []struct {
			ID        string `json:"id"`
			LastError string `json:"lastError"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 || out.Items[0].LastError == "" {
		t.Fatalf("dlq listing: %+v", out)
	}

	rr = httptest.NewRecorder()
	s.DLQHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/admin/dlq/"+out.Items[0].ID+"/requeue", nil))
	if rr.Code != 200 {
		t.Fatalf("requeue: got %d (%s)", rr.Code, rr.Body)
	}
	back, err := s.Queue.Receive(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 1 || string(back[0].Body) != "broken" {
		t.Fatalf("requeued message: %+v", back)
	}
}
