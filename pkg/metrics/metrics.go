// Package metrics exposes Prometheus metrics for extraction runs:
// record and page counters, API request latency, and per-pipeline
// throughput. All metrics are registered on the default registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsExtracted counts records produced by source streams.
	// Labels: source (connector name), stream, status (success/failure)
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmflow_records_extracted_total",
			Help: "Total number of records extracted",
		},
		[]string{"source", "stream", "status"},
	)

	// PagesFetched counts API pages retrieved per stream.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmflow_pages_fetched_total",
			Help: "Total number of API pages fetched",
		},
		[]string{"source", "stream"},
	)

	// EventsRouted counts behavioral events routed to derived streams.
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmflow_events_routed_total",
			Help: "Total number of events routed to derived streams",
		},
		[]string{"source", "stream"},
	)

	// RecordsWritten counts records accepted by destinations.
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmflow_records_written_total",
			Help: "Total number of records written",
		},
		[]string{"destination", "stream", "status"},
	)

	// RequestLatency tracks outbound API request latency.
	// Labels: source, endpoint, status_class (2xx/4xx/5xx)
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "crmflow_request_latency_seconds",
			Help: "Outbound API request latency in seconds",
			Buckets: []float64{
				.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"source", "endpoint", "status_class"},
	)

	// Throughput reports records per second per pipeline.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmflow_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"source", "destination"},
	)

	// ActiveStreams tracks how many streams a run is currently reading.
	ActiveStreams = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmflow_active_streams",
			Help: "Number of streams currently being read",
		},
		[]string{"source"},
	)
)

// Timer measures a single operation's duration.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer starts timing immediately. The name is for identification
// in logs.
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Stop returns the elapsed duration since creation. Calling Stop more
// than once returns the total elapsed time each call.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker accumulates record counts and reports throughput
// over the window since the last reset. Safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64
	lastReset   time.Time
	source      string
	destination string
}

// NewThroughputTracker creates a tracker labeled with the pipeline's
// source and destination names.
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		source:      source,
		destination: destination,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset computes records/second since the last reset, publishes
// it to the Throughput gauge, resets the window, and returns it.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source, t.destination).Set(throughput)
	return throughput
}

// StatusClass buckets an HTTP status code for the RequestLatency label.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
