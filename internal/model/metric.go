package model

import "time"

// SyncMetric is a write-through datapoint for dashboards. The rolling
// failure-rate health check reads these back over a time window.
type SyncMetric struct {
	ID         int64
	Name       string
	Value      float64
	Tags       map[string]string
	RecordedAt time.Time
}

// Metric names recorded by the orchestrator.
const (
	MetricEntitySynced     = "entity_synced"
	MetricEntitySyncFailed = "entity_sync_failed"
)
