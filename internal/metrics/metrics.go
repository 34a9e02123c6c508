// Package metrics provides Prometheus collectors for the session
// multiplexer: session counts, probe latency, and upload throughput.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds every collector the multiplexer registers.
type Metrics struct {
	SessionsActive     prometheus.Gauge
	SessionsTotal      *prometheus.CounterVec
	SessionCreateFail  *prometheus.CounterVec
	ChunksEmittedTotal *prometheus.CounterVec

	ProbeLatency     prometheus.Histogram
	ProbeFailures    prometheus.Counter
	ProbeCPUUsagePct prometheus.Gauge

	UploadsActive      prometheus.Gauge
	UploadBytesTotal   prometheus.Counter
	UploadFailureTotal prometheus.Counter
	UploadSpeedBps     prometheus.Histogram
}

// Get returns the process-wide singleton, registering every collector with
// the default registry on first call.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "termforge",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of sessions currently registered.",
	})

	m.SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "termforge",
		Subsystem: "sessions",
		Name:      "total",
		Help:      "Sessions created, by kind.",
	}, []string{"kind"})

	m.SessionCreateFail = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "termforge",
		Subsystem: "sessions",
		Name:      "create_failures_total",
		Help:      "Session creation failures, by error kind.",
	}, []string{"kind"})

	m.ChunksEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "termforge",
		Subsystem: "iopump",
		Name:      "chunks_emitted_total",
		Help:      "Output chunks emitted, by regime.",
	}, []string{"regime"})

	m.ProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "termforge",
		Subsystem: "prober",
		Name:      "latency_seconds",
		Help:      "Status probe exec round-trip latency.",
		Buckets:   prometheus.DefBuckets,
	})

	m.ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "termforge",
		Subsystem: "prober",
		Name:      "failures_total",
		Help:      "Status probe ticks that failed to parse or exec.",
	})

	m.ProbeCPUUsagePct = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "termforge",
		Subsystem: "prober",
		Name:      "last_cpu_usage_pct",
		Help:      "Most recently observed remote CPU usage percentage, any session.",
	})

	m.UploadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "termforge",
		Subsystem: "sftp",
		Name:      "uploads_active",
		Help:      "SFTP uploads currently in flight.",
	})

	m.UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "termforge",
		Subsystem: "sftp",
		Name:      "bytes_uploaded_total",
		Help:      "Total bytes written across all SFTP uploads.",
	})

	m.UploadFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "termforge",
		Subsystem: "sftp",
		Name:      "upload_failures_total",
		Help:      "SFTP uploads that ended in the error state.",
	})

	m.UploadSpeedBps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "termforge",
		Subsystem: "sftp",
		Name:      "upload_speed_bps",
		Help:      "Observed upload throughput in bytes/sec, sampled per chunk.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
	})

	return m
}
