package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the report engine's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	writes       *prometheus.CounterVec
	events       *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	reconnects   prometheus.Counter
	live         prometheus.Gauge
	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicsync_report_writes_total",
			Help: "Report writes issued by the store, by operation and outcome.",
		}, []string{"op", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicsync_change_events_total",
			Help: "Change events reconciled into the store, by operation and result.",
		}, []string{"op", "result"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "civicsync_snapshot_reloads_total",
			Help: "Full snapshot loads, by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "civicsync_subscription_reconnects_total",
			Help: "Change subscription reconnect attempts.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "civicsync_subscription_live",
			Help: "1 while the change subscription is live and the snapshot trusted.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.writes, m.events, m.reloads, m.reconnects, m.live,
			m.httpInFlight, m.httpRequests, m.httpDuration)
	}
	return m
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// WriteDone records a finished insert or update.
func (m *Metrics) WriteDone(op string, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(op, outcome(err)).Inc()
}

// EventReconciled records one change event and whether it changed the snapshot.
func (m *Metrics) EventReconciled(op string, applied bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "skipped"
	}
	m.events.WithLabelValues(op, result).Inc()
}

// Reload records a full snapshot load.
func (m *Metrics) Reload(err error) {
	if m == nil {
		return
	}
	m.reloads.WithLabelValues(outcome(err)).Inc()
}

// Reconnect records a subscription reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetLive flips the live-subscription gauge.
func (m *Metrics) SetLive(live bool) {
	if m == nil {
		return
	}
	if live {
		m.live.Set(1)
		return
	}
	m.live.Set(0)
}

// Instrument measures request count, latency and in-flight requests.
// route labels the request; it should be a pattern, not a raw path.
func (m *Metrics) Instrument(route func(*http.Request) string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		path := route(r)
		m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
