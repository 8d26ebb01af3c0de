package api

import (
	"encoding/json"
	"io"
	"net/http"

	"fleettrack/internal/model"
)

// TMSWebhookHandler handles POST /webhooks/tms: the transportation
// management system pushes full route snapshots which replace whatever we
// hold for that routeId. The TMS signs with its own secret, distinct from
// the device fleet's.
func (s *Server) TMSWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngressBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.TMSAuth.Verify(body, r.Header.Get("X-Signature")); err != nil {
		writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
		return
	}

	var route model.Route
	if err := json.Unmarshal(body, &route); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateRouteUpdate(&route); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
		return
	}
	if route.Status == "" {
		route.Status = model.RoutePlanned
	}

	saved, err := s.Routes.UpsertRoute(r.Context(), route)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Upsert failed", err.Error(), r.URL.Path)
		return
	}
	s.Bus.Emit(r.Context(), model.EventTMSUpdated, map[string]any{
		"routeId":   saved.RouteID,
		"driverId":  saved.DriverID,
		"stopCount": len(saved.Stops),
		"updatedAt": saved.UpdatedAt,
	}, "logistics.tms")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "routeId": saved.RouteID})
}
