package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tracking_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracking_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tracking_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	itemsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tracking_layer",
			Subsystem: "items",
			Name:      "created_total",
			Help:      "Total number of items registered.",
		},
	)

	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracking_layer",
			Subsystem: "items",
			Name:      "transfers_total",
			Help:      "Total number of custody handshake steps.",
		},
		[]string{"step"}, // initiated, confirmed
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracking_layer",
			Subsystem: "settlement",
			Name:      "transfers_total",
			Help:      "Total number of token settlements attempted.",
		},
		[]string{"kind", "status"},
	)

	incidents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracking_layer",
			Subsystem: "items",
			Name:      "incidents_total",
			Help:      "Total number of damage and loss reports.",
		},
		[]string{"kind"},
	)

	overdueItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tracking_layer",
			Subsystem: "items",
			Name:      "overdue",
			Help:      "Items past their planned delivery time and not yet received or terminal.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		itemsCreated,
		transfers,
		settlements,
		incidents,
		overdueItems,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordItemCreated counts a successful item registration.
func RecordItemCreated() {
	itemsCreated.Inc()
}

// RecordTransferStep counts one step of the custody handshake.
func RecordTransferStep(step string) {
	if step == "" {
		step = "unknown"
	}
	transfers.WithLabelValues(step).Inc()
}

// RecordSettlement counts a settlement attempt by kind and outcome.
func RecordSettlement(kind string, success bool) {
	status := "failed"
	if success {
		status = "settled"
	}
	settlements.WithLabelValues(kind, status).Inc()
}

// RecordIncident counts a damage or loss report.
func RecordIncident(kind string) {
	incidents.WithLabelValues(kind).Inc()
}

// SetOverdueItems updates the overdue delivery gauge.
func SetOverdueItems(count int) {
	overdueItems.Set(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "items" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/items"
	}
	if len(parts) == 2 {
		return "/items/:id"
	}
	return "/items/:id/" + parts[2]
}
