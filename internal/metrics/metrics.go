// Package metrics exposes scan and transport counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/snowmerak/plugscan/lib/plugin"
	"github.com/snowmerak/plugscan/lib/registry"
)

const namespace = "plugscan"

// Metrics implements plugin.Observer and registry.ScanObserver.
//
// A nil *Metrics is valid and records nothing, so callers can pass it
// unconditionally when metrics are disabled.
type Metrics struct {
	messagesTotal     *prometheus.CounterVec
	messageBytesTotal *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	jobDuration       prometheus.Histogram
	workerSpawns      *prometheus.CounterVec
	transportFailures prometheus.Counter
	scansTotal        *prometheus.CounterVec
	scanDuration      prometheus.Histogram
	catalogEntries    prometheus.Gauge
}

var (
	_ plugin.Observer       = (*Metrics)(nil)
	_ registry.ScanObserver = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Protocol messages exchanged with workers by direction and type",
			},
			[]string{"direction", "type"},
		),
		messageBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_bytes_total",
				Help:      "Framed bytes exchanged with workers by direction",
			},
			[]string{"direction"},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Scan jobs by outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Time from submission to resolution of a scan job",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
		),
		workerSpawns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_spawns_total",
				Help:      "Worker start attempts by result",
			},
			[]string{"result"}, // "success", "failed"
		),
		transportFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_failures_total",
				Help:      "Worker sessions aborted by a transport or protocol failure",
			},
		),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Directory scans by result",
			},
			[]string{"result"},
		),
		scanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of directory scans",
				Buckets:   prometheus.DefBuckets,
			},
		),
		catalogEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_entries",
				Help:      "Number of addons in the catalog",
			},
		),
	}

	reg.MustRegister(
		m.messagesTotal,
		m.messageBytesTotal,
		m.jobsTotal,
		m.jobDuration,
		m.workerSpawns,
		m.transportFailures,
		m.scansTotal,
		m.scanDuration,
		m.catalogEntries,
	)
	return m
}

// MessageSent implements multiplexer.Observer.
func (m *Metrics) MessageSent(typ multiplexer.Type, size int) {
	m.message("sent", typ, size)
}

// MessageReceived implements multiplexer.Observer.
func (m *Metrics) MessageReceived(typ multiplexer.Type, size int) {
	m.message("received", typ, size)
}

func (m *Metrics) message(direction string, typ multiplexer.Type, size int) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction, typ.String()).Inc()
	m.messageBytesTotal.WithLabelValues(direction).Add(float64(size))
}

// WorkerSpawned implements plugin.Observer.
func (m *Metrics) WorkerSpawned(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.workerSpawns.WithLabelValues("failed").Inc()
		return
	}
	m.workerSpawns.WithLabelValues("success").Inc()
}

// JobResolved implements plugin.Observer.
func (m *Metrics) JobResolved(outcome plugin.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(string(outcome)).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

// TransportFailed implements plugin.Observer.
func (m *Metrics) TransportFailed() {
	if m == nil {
		return
	}
	m.transportFailures.Inc()
}

// ScanCompleted implements registry.ScanObserver.
func (m *Metrics) ScanCompleted(elapsed time.Duration, _ registry.ScanResult, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.scansTotal.WithLabelValues(result).Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

// SetCatalogSize records the number of cataloged addons.
func (m *Metrics) SetCatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogEntries.Set(float64(n))
}
