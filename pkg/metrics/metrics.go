package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument exported by a rumornet node.
type Metrics struct {
	opsIngested     *prometheus.CounterVec
	opsDropped      *prometheus.CounterVec
	opLogLength     prometheus.Gauge
	snapshotsTotal  prometheus.Counter
	scoringRuns     *prometheus.CounterVec
	rumorTrustScore prometheus.Histogram
	reputationScore prometheus.Histogram

	syncCycles          prometheus.Counter
	syncEntriesSent     prometheus.Counter
	syncEntriesReceived prometheus.Counter
}

// NewMetrics registers and returns a node's metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		opsIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rumornet_ops_ingested_total",
			Help: "Total operations accepted into the op log, by type",
		}, []string{"op_type"}),

		opsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rumornet_ops_dropped_total",
			Help: "Total envelopes dropped during validation, by reason",
		}, []string{"reason"}),

		opLogLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rumornet_oplog_length",
			Help: "Current number of entries in the local op log",
		}),

		snapshotsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rumornet_snapshots_total",
			Help: "Total materialized-view snapshots emitted",
		}),

		scoringRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rumornet_scoring_runs_total",
			Help: "Total scoring invocations, by engine selected",
		}, []string{"engine"}),

		rumorTrustScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rumornet_rumor_trust_score",
			Help:    "Distribution of rumor trust scores produced by scoring runs",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		reputationScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rumornet_reputation_score",
			Help:    "Distribution of reputation account scores",
			Buckets: []float64{0, 50, 100, 200, 400, 600, 800, 1000},
		}),

		syncCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rumornet_sync_cycles_total",
			Help: "Total anti-entropy sync cycles completed",
		}),

		syncEntriesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rumornet_sync_entries_sent_total",
			Help: "Total entries sent across all sync responses",
		}),

		syncEntriesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rumornet_sync_entries_received_total",
			Help: "Total entries applied via read-repair",
		}),
	}
}

// RecordOpIngested records one accepted op of the given type.
func (m *Metrics) RecordOpIngested(opType string) {
	m.opsIngested.WithLabelValues(opType).Inc()
}

// RecordOpDropped records one envelope rejected for the given reason.
func (m *Metrics) RecordOpDropped(reason string) {
	m.opsDropped.WithLabelValues(reason).Inc()
}

// SetOpLogLength reports the current op log length.
func (m *Metrics) SetOpLogLength(n int) {
	m.opLogLength.Set(float64(n))
}

// RecordSnapshot records one materialized-view snapshot.
func (m *Metrics) RecordSnapshot() {
	m.snapshotsTotal.Inc()
}

// RecordScoringRun records one scoring invocation and its rumor trust score.
func (m *Metrics) RecordScoringRun(engine string, rumorTrust float64) {
	m.scoringRuns.WithLabelValues(engine).Inc()
	m.rumorTrustScore.Observe(rumorTrust)
}

// RecordReputationScore records one account's current score.
func (m *Metrics) RecordReputationScore(score float64) {
	m.reputationScore.Observe(score)
}

// RecordSyncCycle records one completed anti-entropy exchange.
func (m *Metrics) RecordSyncCycle(entriesSent, entriesReceived int) {
	m.syncCycles.Inc()
	m.syncEntriesSent.Add(float64(entriesSent))
	m.syncEntriesReceived.Add(float64(entriesReceived))
}

// GetRegistry returns the Prometheus registry backing these metrics.
func (m *Metrics) GetRegistry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
