// Package metrics exposes Prometheus instrumentation for the KV, lease,
// and compaction operations named in spec §4, grounded on PairDB's
// internal/metrics/prometheus.go (promauto-registered counters/histograms
// namespaced per subsystem, constant node_id label).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the server registers.
type Metrics struct {
	RangeRequestsTotal       prometheus.Counter
	RangeRequestDuration     prometheus.Histogram
	PutRequestsTotal         prometheus.Counter
	PutRequestDuration       prometheus.Histogram
	DeleteRangeRequestsTotal prometheus.Counter
	DeleteRangeDuration      prometheus.Histogram
	TxnRequestsTotal         prometheus.CounterVec // by "succeeded"
	TxnRequestDuration       prometheus.Histogram

	LeaseGrantsTotal     prometheus.Counter
	LeaseRevokesTotal    prometheus.Counter
	LeaseKeepAlivesTotal prometheus.Counter
	LeaseExpiredTotal    prometheus.Counter
	LeasesActive         prometheus.Gauge

	CompactionRunsTotal    prometheus.Counter
	CompactionDuration     prometheus.Histogram
	CompactionKeysTrimmed  prometheus.Counter
	HistoryKeysTotal       prometheus.Gauge
	HistoryRevisionsTotal  prometheus.Gauge

	RequestErrorsTotal prometheus.CounterVec // by grpc code
}

// New creates and registers every collector against the default
// registry, labeled with the running node's identity.
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	const ns = "etcdkv"

	return &Metrics{
		RangeRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "kv", Name: "range_requests_total",
			Help: "Total number of Range requests.", ConstLabels: labels,
		}),
		RangeRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "kv", Name: "range_request_duration_seconds",
			Help: "Histogram of Range request durations.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		PutRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "kv", Name: "put_requests_total",
			Help: "Total number of Put requests.", ConstLabels: labels,
		}),
		PutRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "kv", Name: "put_request_duration_seconds",
			Help: "Histogram of Put request durations.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		DeleteRangeRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "kv", Name: "delete_range_requests_total",
			Help: "Total number of DeleteRange requests.", ConstLabels: labels,
		}),
		DeleteRangeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "kv", Name: "delete_range_duration_seconds",
			Help: "Histogram of DeleteRange durations.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		TxnRequestsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "kv", Name: "txn_requests_total",
			Help: "Total number of Txn requests by outcome.", ConstLabels: labels,
		}, []string{"succeeded"}),
		TxnRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "kv", Name: "txn_request_duration_seconds",
			Help: "Histogram of Txn request durations.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),

		LeaseGrantsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "lease", Name: "grants_total",
			Help: "Total number of leases granted.", ConstLabels: labels,
		}),
		LeaseRevokesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "lease", Name: "revokes_total",
			Help: "Total number of explicit lease revocations.", ConstLabels: labels,
		}),
		LeaseKeepAlivesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "lease", Name: "keepalives_total",
			Help: "Total number of lease keep-alive refreshes.", ConstLabels: labels,
		}),
		LeaseExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "lease", Name: "expired_total",
			Help: "Total number of leases reaped for expiry.", ConstLabels: labels,
		}),
		LeasesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "lease", Name: "active",
			Help: "Current number of live (non-expired) leases.", ConstLabels: labels,
		}),

		CompactionRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "compaction", Name: "runs_total",
			Help: "Total number of Compact calls.", ConstLabels: labels,
		}),
		CompactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "compaction", Name: "duration_seconds",
			Help: "Histogram of compaction durations.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		CompactionKeysTrimmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "compaction", Name: "keys_trimmed_total",
			Help: "Total number of history-index keys trimmed or removed by compaction.", ConstLabels: labels,
		}),
		HistoryKeysTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "history", Name: "keys_total",
			Help: "Current number of keys tracked in the history index.", ConstLabels: labels,
		}),
		HistoryRevisionsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "history", Name: "revisions_total",
			Help: "Current number of indexed revisions.", ConstLabels: labels,
		}),

		RequestErrorsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rpc", Name: "errors_total",
			Help: "Total number of RPC errors by status code.", ConstLabels: labels,
		}, []string{"code"}),
	}
}

func (m *Metrics) ObserveRange(seconds float64) {
	m.RangeRequestsTotal.Inc()
	m.RangeRequestDuration.Observe(seconds)
}

func (m *Metrics) ObservePut(seconds float64) {
	m.PutRequestsTotal.Inc()
	m.PutRequestDuration.Observe(seconds)
}

func (m *Metrics) ObserveDeleteRange(seconds float64) {
	m.DeleteRangeRequestsTotal.Inc()
	m.DeleteRangeDuration.Observe(seconds)
}

func (m *Metrics) ObserveTxn(succeeded bool, seconds float64) {
	label := "false"
	if succeeded {
		label = "true"
	}
	m.TxnRequestsTotal.WithLabelValues(label).Inc()
	m.TxnRequestDuration.Observe(seconds)
}

func (m *Metrics) ObserveCompaction(seconds float64, keysTrimmed int) {
	m.CompactionRunsTotal.Inc()
	m.CompactionDuration.Observe(seconds)
	m.CompactionKeysTrimmed.Add(float64(keysTrimmed))
}

func (m *Metrics) RecordError(code string) {
	m.RequestErrorsTotal.WithLabelValues(code).Inc()
}
