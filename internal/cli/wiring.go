package cli

import (
	"fmt"
	"sync"

	"k8s.io/client-go/kubernetes"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/discovery"
	"github.com/telhawk-systems/auditflow/internal/dispatch"
	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/pipeline"
)

// resolvers locates the transformer and sink services.
type resolvers struct {
	transformer discovery.Resolver
	sink        discovery.Resolver
}

// discoverResolvers builds both resolvers from configuration. One clientset
// is shared when both targets use cluster discovery.
func discoverResolvers(cfg *config.Config, logger *logging.Logger) (resolvers, error) {
	newClient := sync.OnceValues(func() (kubernetes.Interface, error) {
		return discovery.NewClientset(cfg.Discovery.Kubeconfig)
	})

	transformer, err := discovery.FromConfig(cfg.Transformer, cfg.Discovery, newClient, logger.Logger)
	if err != nil {
		return resolvers{}, fmt.Errorf("transformer discovery: %w", err)
	}
	sink, err := discovery.FromConfig(cfg.Sink, cfg.Discovery, newClient, logger.Logger)
	if err != nil {
		return resolvers{}, fmt.Errorf("sink discovery: %w", err)
	}
	return resolvers{transformer: transformer, sink: sink}, nil
}

// staticResolvers uses the local URLs whatever the discovery mode. Commands
// that never dispatch use it to stay offline.
func staticResolvers(cfg *config.Config) resolvers {
	return resolvers{
		transformer: discovery.NewStatic(cfg.Transformer.Local.URL),
		sink:        discovery.NewStatic(cfg.Sink.Local.URL),
	}
}

// clients holds the dispatch clients of one process.
type clients struct {
	transformer *dispatch.Client
	sink        *dispatch.Client
}

func (c clients) Close() {
	c.transformer.Close()
	c.sink.Close()
}

func newClients(cfg *config.Config, logger *logging.Logger) (clients, error) {
	transformPolicy, err := dispatch.ParseStatusPolicy(cfg.Dispatch.TransformStatusPolicy)
	if err != nil {
		return clients{}, fmt.Errorf("dispatch.transform_status_policy: %w", err)
	}
	sinkPolicy, err := dispatch.ParseStatusPolicy(cfg.Dispatch.SinkStatusPolicy)
	if err != nil {
		return clients{}, fmt.Errorf("dispatch.sink_status_policy: %w", err)
	}

	return clients{
		transformer: dispatch.NewClient(dispatch.Options{
			Target:              "transformer",
			Timeout:             cfg.Dispatch.Timeout,
			Policy:              transformPolicy,
			MaxIdleConnsPerHost: cfg.Dispatch.MaxIdleConnsPerHost,
		}, logger.Logger),
		sink: dispatch.NewClient(dispatch.Options{
			Target:              "sink",
			Timeout:             cfg.Dispatch.Timeout,
			Policy:              sinkPolicy,
			MaxIdleConnsPerHost: cfg.Dispatch.MaxIdleConnsPerHost,
		}, logger.Logger),
	}, nil
}

// buildOrchestrator wires the configured pipelines to their collaborators.
func buildOrchestrator(cfg *config.Config, logger *logging.Logger, res resolvers) (*pipeline.Orchestrator, clients, error) {
	c, err := newClients(cfg, logger)
	if err != nil {
		return nil, clients{}, err
	}

	orch, err := pipeline.NewOrchestrator(cfg.Pipelines, pipeline.Dependencies{
		TransformerResolver: res.transformer,
		TransformerClient:   c.transformer,
		SinkResolver:        res.sink,
		SinkClient:          c.sink,
		Logger:              logger,
		Parallelism:         cfg.Processing.Parallelism,
	})
	if err != nil {
		c.Close()
		return nil, clients{}, err
	}
	return orch, c, nil
}
