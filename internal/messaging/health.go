package messaging

import (
	"context"
	"time"
)

// HealthChecker can check the health of a messaging connection.
type HealthChecker interface {
	// CheckHealth returns nil if the connection is healthy, error otherwise.
	CheckHealth(ctx context.Context) error
}

// HealthStatus represents the health state of a messaging connection.
type HealthStatus struct {
	// Connected indicates if the broker answered the health check.
	Connected bool `json:"connected"`

	// LatencyMS is the round-trip time of the health check.
	LatencyMS int64 `json:"latency_ms"`

	// Error contains any error message if unhealthy.
	Error string `json:"error,omitempty"`
}

// CheckClientHealth runs the checker with a bounded timeout and reports the result.
func CheckClientHealth(ctx context.Context, checker HealthChecker) HealthStatus {
	status := HealthStatus{}

	if checker == nil {
		status.Error = "client is nil"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := checker.CheckHealth(ctx)
	status.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	return status
}
