package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"fleettrack/internal/metrics"
	"fleettrack/internal/model"
)

const maxIngressBody = 1 << 20

// GPSWebhookHandler handles POST /webhooks/gps. The signature is verified
// over the exact raw body before any parsing; replays are answered 200 so
// retrying producers stop resending, while fresh reports get 202 and a
// queue slot on the driver's partition.
func (s *Server) GPSWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.IngressReports.WithLabelValues("throttled").Inc()
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "ingress rate limit exceeded", r.URL.Path)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngressBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.GPSAuth.Verify(body, r.Header.Get("X-Signature")); err != nil {
		metrics.IngressReports.WithLabelValues("unauthorized").Inc()
		writeProblem(w, http.StatusUnauthorized, "Invalid signature", "", r.URL.Path)
		return
	}

	var rep model.PositionReport
	if err := json.Unmarshal(body, &rep); err != nil {
		metrics.IngressReports.WithLabelValues("invalid").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateReport(&rep); err != nil {
		metrics.IngressReports.WithLabelValues("invalid").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid report", err.Error(), r.URL.Path)
		return
	}

	fresh, err := s.Idem.PutIfAbsent(r.Context(), rep.EventID, s.Cfg.IdempotencyTTL)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Dedupe check failed", err.Error(), r.URL.Path)
		return
	}
	if !fresh {
		metrics.IngressReports.WithLabelValues("deduped").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deduped": true})
		return
	}

	env := model.Envelope{Type: "gps", Payload: rep, ReceivedAt: time.Now().UTC().Format(time.RFC3339)}
	data, err := json.Marshal(env)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Encode failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Queue.Enqueue(r.Context(), data, rep.DriverID, rep.EventID); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Enqueue failed", err.Error(), r.URL.Path)
		return
	}
	metrics.IngressReports.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}
