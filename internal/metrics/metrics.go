package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_events_ingested_total",
		Help: "Total number of webhook events durably stored in the inbox.",
	}, []string{"source_type", "entity_type"})

	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "driftsync_events_deduplicated_total",
		Help: "Total number of webhook deliveries rejected as duplicates.",
	})

	EntriesEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_queue_enqueued_total",
		Help: "Total number of entries placed on the sync queue.",
	}, []string{"entity_type"})

	EntriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_queue_processed_total",
		Help: "Total number of queue entries processed, labelled by outcome.",
	}, []string{"entity_type", "outcome"})

	EntriesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_queue_dead_lettered_total",
		Help: "Total number of queue entries escalated to the dead-letter store.",
	}, []string{"entity_type"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "driftsync_queue_depth",
		Help: "Current queue depth per status.",
	}, []string{"status"})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "driftsync_processing_duration_ms",
		Help:    "Domain handler execution latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "driftsync_alerts_raised_total",
		Help: "Total number of alerts raised by the health monitor, labelled by severity.",
	}, []string{"severity"})
)
