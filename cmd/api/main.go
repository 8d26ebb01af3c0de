package main

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleettrack/internal/api"
	"fleettrack/internal/config"
	"fleettrack/internal/metrics"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Ingress webhooks
	mux.HandleFunc("/webhooks/gps", srv.GPSWebhookHandler)
	mux.HandleFunc("/webhooks/tms", srv.TMSWebhookHandler)

	// Routes
	mux.HandleFunc("/v1/routes", srv.RoutesIndexHandler)
	mux.HandleFunc("/v1/routes/", srv.RouteByIDHandler) // includes /assign, /complete, /cancel

	// Drivers
	mux.HandleFunc("/v1/drivers", srv.DriversIndexHandler)
	mux.HandleFunc("/v1/drivers/", srv.DriverByIDHandler) // includes /state, /routes, /events/stream

	// Live streaming
	mux.HandleFunc("/v1/live", srv.LiveHandler)

	// Admin
	mux.HandleFunc("/v1/admin/dlq", srv.DLQHandler)
	mux.HandleFunc("/v1/admin/dlq/", srv.DLQHandler)

	// Health
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)

	// Metrics
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	consumer := srv.NewConsumer()
	consumer.Start()

	addr := ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, sw.status, dur)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the middleware wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps WebSocket upgrades working through the middleware wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
