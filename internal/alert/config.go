package alert

// Event types raised by the pipeline.
const (
	EventStateDiverged     = "state_diverged"
	EventAuditFailure      = "audit_failure"
	EventAllNetworksFailed = "all_networks_failed"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["state_diverged", "audit_failure", "all_networks_failed"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp string            `json:"timestamp"`
	Type      string            `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	AssetID   string            `json:"asset_id,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// Severity maps an event type to a paging severity.
func Severity(eventType string) string {
	switch eventType {
	case EventStateDiverged:
		return "critical"
	case EventAuditFailure, EventAllNetworksFailed:
		return "error"
	default:
		return "warning"
	}
}
