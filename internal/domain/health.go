package domain

import "time"

// Readiness states reported by /readyz. Only HealthStatusError takes the instance out of rotation.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the result of probing one dependency (Firestore, Redis, a Pub/Sub topic).
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// OK reports whether the probe passed. An unset status counts as passing.
func (c SystemHealthCheck) OK() bool {
	return c.Status == "" || c.Status == HealthStatusOK
}

// SystemHealthReport is the aggregated readiness view plus build metadata.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
