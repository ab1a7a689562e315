package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentchat",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	relayStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Subsystem: "relay",
			Name:      "streams_total",
			Help:      "Relayed completion streams by outcome.",
		},
		[]string{"provider", "outcome"},
	)

	relayTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Subsystem: "relay",
			Name:      "tokens_total",
			Help:      "Tokens forwarded to clients.",
		},
		[]string{"provider"},
	)

	relayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentchat",
			Subsystem: "relay",
			Name:      "stream_duration_seconds",
			Help:      "Wall time from provider open to stream end.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"provider", "outcome"},
	)

	marketRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentchat",
			Subsystem: "market",
			Name:      "refresh_runs_total",
			Help:      "Scheduled market refreshes by result.",
		},
		[]string{"success"},
	)

	marketSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentchat",
			Subsystem: "market",
			Name:      "subscribers",
			Help:      "Connected market websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		relayStreams,
		relayTokens,
		relayDuration,
		marketRefreshes,
		marketSubscribers,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
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

// RecordRelayStream records the end of one relayed stream.
func RecordRelayStream(provider, outcome string, tokens int, duration time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	relayStreams.WithLabelValues(provider, outcome).Inc()
	if tokens > 0 {
		relayTokens.WithLabelValues(provider).Add(float64(tokens))
	}
	relayDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// RecordMarketRefresh counts one scheduled market refresh.
func RecordMarketRefresh(success bool) {
	marketRefreshes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetMarketSubscribers reports the current websocket audience.
func SetMarketSubscribers(n int) {
	marketSubscribers.Set(float64(n))
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

// Flush keeps event streams flowing through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// canonicalPath collapses numeric path segments so label cardinality stays
// bounded: /chat-history/3/9 becomes /chat-history/:id/:id.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}
