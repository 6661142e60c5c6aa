// Package metrics exposes Prometheus counters, histograms, and gauges for
// the agent runtime's suspension points: bus receives, adapter
// ingress, egress writes, and anti-entropy exchanges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/histogram/gauge the agent records.
type Metrics struct {
	DeltasPublished    prometheus.Counter
	DeltasApplied      prometheus.Counter
	DeltaApplyDuration prometheus.Histogram
	IngressEvents      prometheus.Counter
	EgressWrites       prometheus.Counter
	EgressFailures     prometheus.Counter
	ActivePeers        prometheus.Gauge
	DocumentCount      prometheus.Gauge
	AERequestsSent     prometheus.Counter
	AEResponsesApplied prometheus.Counter
	ErrorCount         prometheus.Counter
	DurableLogSize     prometheus.Gauge
}

// NewMetrics registers and returns the agent's metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		DeltasPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_deltas_published_total",
			Help: "Total number of deltas published to the replication bus",
		}),
		DeltasApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_deltas_applied_total",
			Help: "Total number of deltas applied to local document state",
		}),
		DeltaApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aas_deltasync_delta_apply_duration_seconds",
			Help:    "Time taken to apply a received delta to document state",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}),
		IngressEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_ingress_events_total",
			Help: "Total number of change records observed from an AAS adapter",
		}),
		EgressWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_egress_writes_total",
			Help: "Total number of PATCH writes sent to the local AAS server",
		}),
		EgressFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_egress_failures_total",
			Help: "Total number of failed egress PATCH writes",
		}),
		ActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aas_deltasync_active_peers",
			Help: "Number of distinct peers this agent has observed on the bus since start",
		}),
		DocumentCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aas_deltasync_documents",
			Help: "Number of documents with in-memory state",
		}),
		AERequestsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_ae_requests_sent_total",
			Help: "Total number of anti-entropy requests sent",
		}),
		AEResponsesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_ae_responses_applied_total",
			Help: "Total number of anti-entropy responses applied",
		}),
		ErrorCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aas_deltasync_errors_total",
			Help: "Total number of warned/recoverable errors across the agent",
		}),
		DurableLogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aas_deltasync_durable_log_rows",
			Help: "Approximate number of rows retained in the durable delta log",
		}),
	}
}
