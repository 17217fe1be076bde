package model

import "time"

// AlertSeverity classifies how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is one detected anomaly raised by the health monitor. Mutated only
// by acknowledgment and resolution actions.
type Alert struct {
	ID        int64
	AlertType string
	Severity  AlertSeverity
	Title     string
	Message   string
	Metadata  map[string]any

	// QueueEntryID references the entry that triggered the alert, when the
	// alert is about a specific entry (e.g. a dead-letter escalation).
	QueueEntryID *int64

	Acknowledged   bool
	AcknowledgedAt *time.Time
	Resolved       bool
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}
