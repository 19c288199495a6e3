package http

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version,omitempty"`
	Snapshot *SnapshotStatus `json:"snapshot,omitempty"`
	Trust    *TrustStatus    `json:"trust,omitempty"`
	Events   *EventsStatus   `json:"events,omitempty"`

	// Telemetry is telemetry.HealthStatus; kept as any so this package
	// does not depend on the exporter stack.
	Telemetry any `json:"telemetry,omitempty"`
}

// SnapshotStatus describes the published pattern index.
type SnapshotStatus struct {
	Loaded   bool   `json:"loaded"`
	Version  string `json:"version,omitempty"`
	Patterns int    `json:"patterns"`
}

// TrustStatus describes the live trust model.
type TrustStatus struct {
	Tracked    int    `json:"tracked"`
	Generation uint64 `json:"generation"`
}

// EventsStatus describes the outcome-event consumer.
type EventsStatus struct {
	Applied  uint64 `json:"applied"`
	Rejected uint64 `json:"rejected"`
}
