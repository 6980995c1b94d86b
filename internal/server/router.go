// Package server wires the HTTP routes of the worker and the ingress.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/ingress"
	"github.com/telhawk-systems/auditflow/internal/messaging"
	"github.com/telhawk-systems/auditflow/internal/middleware"
	"github.com/telhawk-systems/auditflow/internal/pipeline"
)

// PublishPath is the ingress publish endpoint.
const PublishPath = "/api/v1/audit/publish"

// Probe answers the health and readiness endpoints.
type Probe struct {
	// Stats returns the counters shown by /readyz.
	Stats func() any

	// Broker reports the broker connection. Nil means always connected.
	Broker func(ctx context.Context) messaging.HealthStatus
}

// Health handles /healthz. It only reports that the process serves HTTP.
func (p Probe) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles /readyz. It returns 503 while the broker is unreachable.
func (p Probe) Ready(w http.ResponseWriter, r *http.Request) {
	broker := messaging.HealthStatus{Connected: true}
	if p.Broker != nil {
		broker = p.Broker(r.Context())
	}

	body := map[string]any{
		"status": "ready",
		"broker": broker,
	}
	if p.Stats != nil {
		body["stats"] = p.Stats()
	}

	status := http.StatusOK
	if !broker.Connected {
		status = http.StatusServiceUnavailable
		body["status"] = "not_ready"
	}
	writeJSON(w, status, body)
}

// NewWorkerRouter serves the worker's health, readiness and metrics endpoints.
func NewWorkerRouter(orch *pipeline.Orchestrator, broker messaging.HealthChecker) http.Handler {
	probe := Probe{
		Stats: func() any { return orch.Stats() },
	}
	if broker != nil {
		probe.Broker = func(ctx context.Context) messaging.HealthStatus {
			return messaging.CheckClientHealth(ctx, broker)
		}
	}

	mux := http.NewServeMux()
	registerProbes(mux, probe)
	return middleware.RequestID(mux)
}

// NewIngressRouter serves the publish endpoint next to the probes.
func NewIngressRouter(h *ingress.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(PublishPath, h.Publish)

	registerProbes(mux, Probe{
		Stats:  func() any { return h.Stats() },
		Broker: h.Ping,
	})
	return middleware.RequestID(mux)
}

func registerProbes(mux *http.ServeMux, probe Probe) {
	// Health endpoints
	mux.HandleFunc("/healthz", probe.Health)
	mux.HandleFunc("/readyz", probe.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())
}

// New creates an http.Server listening on port with the configured timeouts.
func New(port int, handler http.Handler, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
