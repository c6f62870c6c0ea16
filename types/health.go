package types

type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "UP"
	HealthStatusDown     HealthStatus = "DOWN"
	HealthStatusDegraded HealthStatus = "DEGRADED"
)

// HealthComponent is the state of one dependency (device store, database).
type HealthComponent struct {
	Status  HealthStatus `json:"status"`
	Details string       `json:"details,omitempty"`
}

// HealthCheck is the body of GET /health.
type HealthCheck struct {
	Status       HealthStatus               `json:"status"`
	Components   map[string]HealthComponent `json:"components"`
	Version      string                     `json:"version"`
	Timestamp    string                     `json:"timestamp"`
	Uptime       string                     `json:"uptime"`
	SessionState SessionState               `json:"sessionState,omitempty"`
}
