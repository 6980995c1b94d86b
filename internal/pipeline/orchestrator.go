// Package pipeline routes audit events through the configured pipelines.
//
// For every event the Orchestrator walks the pipelines in declaration order:
// disabled pipelines are skipped, the condition is evaluated, the optional
// transformer is called and the result is delivered to the pipeline's sink.
// A failure in one pipeline is logged and never affects the others.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/discovery"
	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/metrics"
	"github.com/telhawk-systems/auditflow/pkg/condition"
	"golang.org/x/sync/errgroup"
)

// Stage names the step of a pipeline that failed.
type Stage string

const (
	StageTransform Stage = "transform"
	StageSink      Stage = "sink"
)

// StageError reports a failed pipeline step.
type StageError struct {
	Pipeline string
	Stage    Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %q: %s: %v", e.Pipeline, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one pipeline for one event.
type Result struct {
	Pipeline string
	// Outcome is one of the metrics.Outcome* values.
	Outcome  string
	Err      error
	Duration time.Duration
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	// Evaluator defaults to a new condition.Evaluator.
	Evaluator *condition.Evaluator

	// TransformerResolver and TransformerClient are required when an
	// enabled pipeline names a transformer.
	TransformerResolver discovery.Resolver
	TransformerClient   Poster

	// SinkResolver and SinkClient are required by remote sinks.
	SinkResolver discovery.Resolver
	SinkClient   Poster

	Logger *logging.Logger

	// Parallelism > 1 runs the pipelines of one event concurrently.
	Parallelism int
}

type route struct {
	pipeline config.Pipeline
	sink     Sink
}

// Orchestrator runs events through pipelines. It is safe for concurrent use.
type Orchestrator struct {
	routes      []route
	evaluator   *condition.Evaluator
	resolver    discovery.Resolver
	transformer Poster
	parallelism int
	logger      *logging.Logger

	stats counters
}

// NewOrchestrator validates the pipelines and builds their sinks. Invalid
// pipelines, including unknown sink kinds, yield a *config.ConfigurationError.
func NewOrchestrator(pipelines []config.Pipeline, deps Dependencies) (*Orchestrator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(slog.String("component", "orchestrator"))

	pipelines = config.NormalizePipelines(pipelines)
	if err := config.ValidatePipelines(pipelines); err != nil {
		return nil, err
	}

	evaluator := deps.Evaluator
	if evaluator == nil {
		evaluator = condition.NewEvaluator(logger.Logger)
	}
	parallelism := deps.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	cfgErr := &config.ConfigurationError{}
	routes := make([]route, 0, len(pipelines))
	for i, p := range pipelines {
		r := route{pipeline: p}
		if !p.Enabled {
			routes = append(routes, r)
			continue
		}

		field := fmt.Sprintf("pipelines[%d]", i)
		if p.HasTransformer() && (deps.TransformerResolver == nil || deps.TransformerClient == nil) {
			cfgErr.Add(field+".transformer", "no transformer service is configured")
		}

		sink, err := NewSink(p.Name, p.Sink, SinkDeps{
			Resolver: deps.SinkResolver,
			Client:   deps.SinkClient,
			Logger:   logger.Logger,
		})
		switch {
		case errors.Is(err, ErrUnknownSinkKind):
			cfgErr.Err = err
			cfgErr.Add(field+".sink.kind", "unknown sink kind %q (known: %s)", p.Sink.Kind, strings.Join(SinkKinds(), ", "))
		case err != nil:
			cfgErr.Add(field+".sink", "%v", err)
		}
		r.sink = sink
		routes = append(routes, r)
	}
	if err := cfgErr.OrNil(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		routes:      routes,
		evaluator:   evaluator,
		resolver:    deps.TransformerResolver,
		transformer: deps.TransformerClient,
		parallelism: parallelism,
		logger:      logger,
	}, nil
}

// Pipelines returns the configured pipelines in declaration order.
func (o *Orchestrator) Pipelines() []config.Pipeline {
	out := make([]config.Pipeline, len(o.routes))
	for i, r := range o.routes {
		out[i] = r.pipeline
	}
	return out
}

// ProcessEvent runs one raw event through every pipeline. It never fails:
// each pipeline's errors are logged and counted.
func (o *Orchestrator) ProcessEvent(ctx context.Context, raw string) {
	o.Process(ctx, raw)
}

// Process is ProcessEvent that also returns the per-pipeline results in
// declaration order. It returns nil when the event is ignored.
func (o *Orchestrator) Process(ctx context.Context, raw string) []Result {
	log := o.logger.WithContext(ctx)

	if strings.TrimSpace(raw) == "" {
		log.DebugContext(ctx, "Received blank event, skipping")
		metrics.EventsIgnored.WithLabelValues("blank").Inc()
		o.stats.ignored.Add(1)
		return nil
	}
	if len(o.routes) == 0 {
		log.WarnContext(ctx, "No audit pipelines configured, skipping event")
		metrics.EventsIgnored.WithLabelValues("no_pipelines").Inc()
		o.stats.ignored.Add(1)
		return nil
	}

	metrics.EventsProcessed.Inc()
	o.stats.events.Add(1)

	ev := newEvent(raw)
	if ev.parseErr == nil {
		log = log.With(eventAttrs(ev.doc)...)
	}

	results := make([]Result, len(o.routes))
	if o.parallelism > 1 && len(o.routes) > 1 {
		var g errgroup.Group
		g.SetLimit(o.parallelism)
		for i := range o.routes {
			i := i
			g.Go(func() error {
				results[i] = o.run(ctx, log, o.routes[i], ev)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range o.routes {
			results[i] = o.run(ctx, log, o.routes[i], ev)
		}
	}
	return results
}

// Match returns the names of the enabled pipelines whose condition matches
// the event, without calling any transformer or sink.
func (o *Orchestrator) Match(raw []byte) []string {
	ev := newEvent(string(raw))
	var names []string
	for _, r := range o.routes {
		if r.pipeline.Enabled && o.matches(r.pipeline, ev) {
			names = append(names, r.pipeline.Name)
		}
	}
	return names
}

// run executes one pipeline and records its outcome.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, r route, ev event) (res Result) {
	p := r.pipeline
	log = log.With(logging.Pipeline(p.Name))
	res.Pipeline = p.Name
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			res.Outcome = metrics.OutcomePanic
			res.Err = fmt.Errorf("pipeline %q panicked: %v", p.Name, rec)
		}
		res.Duration = time.Since(start)
		o.record(ctx, log, res)
	}()

	if !p.Enabled {
		res.Outcome = metrics.OutcomeDisabled
		return res
	}

	if !o.matches(p, ev) {
		res.Outcome = metrics.OutcomeNotMatched
		return res
	}

	payload := []byte(ev.raw)
	if p.HasTransformer() {
		transformed, err := o.transform(ctx, p, ev)
		if err != nil {
			res.Outcome = outcomeFor(err, metrics.OutcomeTransformFailed)
			res.Err = &StageError{Pipeline: p.Name, Stage: StageTransform, Err: err}
			return res
		}
		payload = transformed
	}

	if err := r.sink.Deliver(ctx, payload); err != nil {
		res.Outcome = outcomeFor(err, metrics.OutcomeSinkFailed)
		res.Err = &StageError{Pipeline: p.Name, Stage: StageSink, Err: err}
		return res
	}

	res.Outcome = metrics.OutcomeDelivered
	return res
}

func (o *Orchestrator) matches(p config.Pipeline, ev event) bool {
	if p.Condition.IsEmpty() {
		return true
	}
	if ev.parseErr != nil {
		return o.evaluator.Evaluate([]byte(ev.raw), p.Condition)
	}
	return o.evaluator.EvaluateDocument(ev.doc, p.Condition)
}

// transform posts the parsed event to /transform/{name} and returns the
// response body verbatim.
func (o *Orchestrator) transform(ctx context.Context, p config.Pipeline, ev event) ([]byte, error) {
	if ev.parseErr != nil {
		return nil, fmt.Errorf("event is not valid JSON: %w", ev.parseErr)
	}

	baseURL, err := o.resolver.ResolveEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return o.transformer.Post(ctx, baseURL, "/transform/"+url.PathEscape(p.TransformerName()), ev.body())
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, res Result) {
	metrics.PipelineOutcomes.WithLabelValues(res.Pipeline, res.Outcome).Inc()
	if res.Outcome != metrics.OutcomeDisabled {
		metrics.PipelineDuration.WithLabelValues(res.Pipeline).Observe(res.Duration.Seconds())
	}

	switch res.Outcome {
	case metrics.OutcomeDelivered:
		o.stats.delivered.Add(1)
		log.DebugContext(ctx, "Event delivered", logging.Duration(res.Duration))
	case metrics.OutcomeNotMatched:
		o.stats.notMatched.Add(1)
		log.DebugContext(ctx, "Condition not met, skipping pipeline")
	case metrics.OutcomeDisabled:
		o.stats.disabled.Add(1)
		log.InfoContext(ctx, "Pipeline is disabled, skipping")
	default:
		o.stats.failed.Add(1)
		log.ErrorContext(ctx, "Pipeline failed",
			slog.String("outcome", res.Outcome),
			logging.Error(res.Err),
			logging.Duration(res.Duration))
	}
}

func outcomeFor(err error, fallback string) string {
	var discErr *discovery.DiscoveryError
	if errors.As(err, &discErr) {
		return metrics.OutcomeDiscoveryFailed
	}
	return fallback
}

func eventAttrs(doc any) []any {
	var attrs []any
	if v, ok := condition.Resolve(doc, "eventId"); ok && v != nil {
		attrs = append(attrs, logging.EventID(condition.Text(v)))
	}
	if v, ok := condition.Resolve(doc, "eventType"); ok && v != nil {
		attrs = append(attrs, logging.EventType(condition.Text(v)))
	}
	return attrs
}

// Stats is a snapshot of the orchestrator counters.
type Stats struct {
	Events     int64 `json:"events"`
	Ignored    int64 `json:"ignored"`
	Delivered  int64 `json:"delivered"`
	NotMatched int64 `json:"not_matched"`
	Disabled   int64 `json:"disabled"`
	Failed     int64 `json:"failed"`
}

type counters struct {
	events     atomic.Int64
	ignored    atomic.Int64
	delivered  atomic.Int64
	notMatched atomic.Int64
	disabled   atomic.Int64
	failed     atomic.Int64
}

// Stats returns the counters accumulated since the orchestrator was created.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Events:     o.stats.events.Load(),
		Ignored:    o.stats.ignored.Load(),
		Delivered:  o.stats.delivered.Load(),
		NotMatched: o.stats.notMatched.Load(),
		Disabled:   o.stats.disabled.Load(),
		Failed:     o.stats.failed.Load(),
	}
}
