// Package discovery resolves the base URL of transformer and sink services.
//
// Two variants exist: Static returns a configured URL and Kubernetes looks up
// a Service registration on every call. Either can be wrapped by Cached,
// which keeps a resolved URL for a bounded time and never caches failures.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/metrics"
	"k8s.io/client-go/kubernetes"
)

var (
	// ErrServiceNotFound is returned when the service registration does not exist.
	ErrServiceNotFound = errors.New("service not found")

	// ErrNoPorts is returned when the service declares no port and none is configured.
	ErrNoPorts = errors.New("service declares no ports")
)

// Resolver resolves the base URL of a destination.
type Resolver interface {
	ResolveEndpoint(ctx context.Context) (string, error)
}

// DiscoveryError reports that an endpoint could not be resolved.
type DiscoveryError struct {
	// Target identifies what was being resolved, e.g. "audit/transformer-svc".
	Target string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Target, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Static always resolves to the same pre-configured URL.
type Static struct {
	url string
}

// NewStatic creates a Static resolver.
func NewStatic(url string) *Static {
	return &Static{url: url}
}

// ResolveEndpoint returns the configured URL.
func (s *Static) ResolveEndpoint(context.Context) (string, error) {
	metrics.DiscoveryLookups.WithLabelValues("static", "ok").Inc()
	return s.url, nil
}

// ClientFactory builds a Kubernetes clientset on first use.
type ClientFactory func() (kubernetes.Interface, error)

// FromConfig builds the resolver for one target (transformer or sink).
// newClient is only invoked in cluster mode.
func FromConfig(target config.TargetConfig, shared config.DiscoveryConfig, newClient ClientFactory, logger *slog.Logger) (Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var r Resolver
	if target.IsCluster() {
		client, err := newClient()
		if err != nil {
			return nil, fmt.Errorf("create kubernetes client: %w", err)
		}
		r = NewKubernetes(client, ServiceRef{
			Name:      target.Service.Name,
			Namespace: target.Service.Namespace,
			Port:      target.Service.Port,
			Scheme:    target.Service.Scheme,
		}, logger)
	} else {
		r = NewStatic(target.Local.URL)
	}

	return NewCached(r, shared.CacheTTL), nil
}
