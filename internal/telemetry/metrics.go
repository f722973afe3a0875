// Package telemetry exposes internal counters to Prometheus.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives pipeline and worker observations.
type Recorder interface {
	IncItemsProcessed(kind string)
	IncItemsFailed(kind string)
	SetQueueDepth(kind string, depth int)
	ObserveFlushDuration(d time.Duration)
	SetTrackedProcesses(count int)
	IncIPCConnects()
}

// Metrics is the Prometheus-backed Recorder.
type Metrics struct {
	itemsProcessed   *prometheus.CounterVec
	itemsFailed      *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	flushDuration    prometheus.Histogram
	trackedProcesses prometheus.Gauge
	ipcConnects      prometheus.Counter
}

// NewMetrics registers all collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		itemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenmon_items_processed_total",
			Help: "Items successfully written to storage, by kind.",
		}, []string{"kind"}),
		itemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenmon_items_failed_total",
			Help: "Items dropped or failed to persist, by kind.",
		}, []string{"kind"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "screenmon_queue_depth",
			Help: "Current ingestion queue depth, by kind.",
		}, []string{"kind"}),
		flushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screenmon_flush_duration_seconds",
			Help:    "Duration of ingestion flush passes.",
			Buckets: prometheus.DefBuckets,
		}),
		trackedProcesses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screenmon_tracked_processes",
			Help: "Process instances currently tracked by the background monitor.",
		}),
		ipcConnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenmon_ipc_connects_total",
			Help: "Accepted IPC client connections.",
		}),
	}
}

func (m *Metrics) IncItemsProcessed(kind string) {
	m.itemsProcessed.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncItemsFailed(kind string) {
	m.itemsFailed.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(kind string, depth int) {
	m.queueDepth.WithLabelValues(kind).Set(float64(depth))
}

func (m *Metrics) ObserveFlushDuration(d time.Duration) {
	m.flushDuration.Observe(d.Seconds())
}

func (m *Metrics) SetTrackedProcesses(count int) {
	m.trackedProcesses.Set(float64(count))
}

func (m *Metrics) IncIPCConnects() {
	m.ipcConnects.Inc()
}

// Nop discards all observations. Used in tests and CLI paths that do not
// serve a metrics endpoint.
type Nop struct{}

func (Nop) IncItemsProcessed(string)           {}
func (Nop) IncItemsFailed(string)              {}
func (Nop) SetQueueDepth(string, int)          {}
func (Nop) ObserveFlushDuration(time.Duration) {}
func (Nop) SetTrackedProcesses(int)            {}
func (Nop) IncIPCConnects()                    {}

var _ Recorder = (*Metrics)(nil)
var _ Recorder = Nop{}
