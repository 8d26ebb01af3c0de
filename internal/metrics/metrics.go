package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// IngressReports counts ingress outcomes: accepted, deduped, invalid, unauthorized, throttled
	IngressReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingress_reports_total", Help: "Position reports by ingress outcome."},
		[]string{"outcome"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Transitions counts geofence state transitions by event type
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geofence_transitions_total", Help: "Arrival/departure transitions by event type."},
		[]string{"event_type"},
	)
	// ProcessedReports counts processed queue records by result: ok, retry, dead_letter
	ProcessedReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "processed_reports_total", Help: "Queue records processed by result."},
		[]string{"result"},
	)
	// VersionConflicts counts optimistic-write retries in the processor
	VersionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "state_version_conflicts_total", Help: "Conditional driver-state writes that lost the race."},
	)
	// EventsPublished counts domain events by type and publish status
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "domain_events_published_total", Help: "Domain events by type and status."},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(IngressReports)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Transitions)
		Registry.MustRegister(ProcessedReports)
		Registry.MustRegister(VersionConflicts)
		Registry.MustRegister(EventsPublished)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
