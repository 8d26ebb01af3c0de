package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleettrack/internal/model"
	"fleettrack/internal/queue"
	"fleettrack/internal/routes"
	"fleettrack/internal/state"
)

// RoutesIndexHandler handles POST/GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in routes.CreateRouteInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if in.DriverID == "" || len(in.Stops) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid route", "driverId and stops are required", r.URL.Path)
			return
		}
		route, err := s.Routes.CreateRoute(r.Context(), in)
		if errors.Is(err, routes.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Unknown driver", in.DriverID, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create route failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, route)
	case http.MethodGet:
		list, err := s.Routes.ListRoutes(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RouteByIDHandler handles /v1/routes/{id} and the lifecycle actions
// /assign, /complete and /cancel.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/routes/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		route, err := s.Routes.GetRoute(r.Context(), id)
		if errors.Is(err, routes.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Unknown route", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get route failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, route)
		return
	}

	var status string
	switch parts[1] {
	case "assign":
		status = model.RouteEnRoute
	case "complete":
		status = model.RouteCompleted
	case "cancel":
		status = model.RouteCancelled
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	route, err := s.Routes.SetStatus(r.Context(), id, status)
	if errors.Is(err, routes.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Unknown route", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Update failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// DriversIndexHandler handles POST /v1/drivers
func (s *Server) DriversIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if in.Name == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid driver", "name is required", r.URL.Path)
		return
	}
	d, err := s.Routes.CreateDriver(r.Context(), in.Name)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create driver failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// DriverByIDHandler handles /v1/drivers/{id}, its /state and /routes
// read views and the /events/stream SSE feed.
func (s *Server) DriverByIDHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/drivers/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	id := parts[0]
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if len(parts) == 1 {
		d, err := s.Routes.GetDriver(r.Context(), id)
		if errors.Is(err, routes.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Unknown driver", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get driver failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, d)
		return
	}

	switch parts[1] {
	case "state":
		st, err := s.States.Get(r.Context(), id)
		if errors.Is(err, state.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "No state yet", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get state failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case "routes":
		list, err := s.Routes.ListRoutesForDriver(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list})
	case "events":
		if len(parts) > 2 && parts[2] == "stream" {
			s.streamDriverEvents(w, r, id)
			return
		}
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// streamDriverEvents serves the SSE feed for one driver's live events.
func (s *Server) streamDriverEvents(w http.ResponseWriter, r *http.Request, driverID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(driverID)
	defer s.Broker.Unsubscribe(driverID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"driverId\":%q,\"ts\":%q}\n\n", driverID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// DLQHandler handles GET /v1/admin/dlq and POST /v1/admin/dlq/{id}/requeue
func (s *Server) DLQHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/admin/dlq")
	rest = strings.Trim(rest, "/")

	if rest == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		items, err := s.Queue.ListDeadLetters(r.Context(), limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List DLQ failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "requeue" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		err := s.Queue.RequeueDeadLetter(r.Context(), parts[0])
		if errors.Is(err, queue.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Unknown dead letter", parts[0], r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Requeue failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// check DB connectivity when backed by Postgres
	if pg, ok := s.Routes.(interface{ DB() *sql.DB }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.DB().PingContext(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
