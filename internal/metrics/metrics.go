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
			Namespace: "neomix",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neomix",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neomix",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	mixRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neomix",
			Subsystem: "mixer",
			Name:      "mixes_total",
			Help:      "Total number of mix executions by outcome.",
		},
		[]string{"status", "error_kind"},
	)

	mixDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neomix",
			Subsystem: "mixer",
			Name:      "mix_duration_seconds",
			Help:      "Wall-clock duration of mix executions.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
		[]string{"status"},
	)

	mixHops = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "neomix",
			Subsystem: "mixer",
			Name:      "hops_per_mix",
			Help:      "Number of hops executed per mix.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
	)

	deliveredVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neomix",
			Subsystem: "mixer",
			Name:      "delivered_units_total",
			Help:      "Total GAS smallest units delivered to recipients.",
		},
	)

	feeVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neomix",
			Subsystem: "mixer",
			Name:      "fee_units_total",
			Help:      "Total GAS smallest units consumed as hop fee reserves.",
		},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neomix",
			Subsystem: "mixer",
			Name:      "sweeps_total",
			Help:      "Total number of stranded-fund sweep attempts.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		mixRuns,
		mixDuration,
		mixHops,
		deliveredVolume,
		feeVolume,
		sweepRuns,
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

// RecordMix records the outcome of one mix execution.
func RecordMix(status, errorKind string, hops int, duration time.Duration) {
	if errorKind == "" {
		errorKind = "none"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	mixRuns.WithLabelValues(status, errorKind).Inc()
	mixDuration.WithLabelValues(status).Observe(duration.Seconds())
	if hops > 0 {
		mixHops.Observe(float64(hops))
	}
}

// RecordDelivery records delivered and fee volumes of a completed mix.
func RecordDelivery(delivered, fees int64) {
	if delivered > 0 {
		deliveredVolume.Add(float64(delivered))
	}
	if fees > 0 {
		feeVolume.Add(float64(fees))
	}
}

// RecordSweep records a stranded-fund recovery attempt.
func RecordSweep(success bool) {
	sweepRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
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
	if parts[0] != "mixes" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/mixes"
	}
	if len(parts) >= 3 && parts[2] == "recovery" {
		return "/mixes/:id/recovery"
	}
	return "/mixes/:id"
}
