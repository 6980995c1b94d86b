package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/discovery"
	"github.com/telhawk-systems/auditflow/internal/logging"
)

// ErrUnknownSinkKind is returned when a pipeline names a sink kind that has
// no registered factory.
var ErrUnknownSinkKind = errors.New("unknown sink kind")

// Poster posts a JSON body to baseURL+path and returns the response body.
// *dispatch.Client implements it.
type Poster interface {
	Post(ctx context.Context, baseURL, path string, body any) ([]byte, error)
}

// Sink delivers the final payload of one pipeline.
type Sink interface {
	Deliver(ctx context.Context, payload []byte) error
}

// SinkDeps are the collaborators a sink factory may use.
type SinkDeps struct {
	Resolver discovery.Resolver
	Client   Poster
	Logger   *slog.Logger
}

// SinkFactory builds a sink for one pipeline.
type SinkFactory func(pipeline string, ref config.SinkRef, deps SinkDeps) (Sink, error)

var sinkFactories = map[string]SinkFactory{
	config.SinkKindRemote:  newRemoteSink,
	config.SinkKindLogging: newLoggingSink,
}

// SinkKinds lists the registered sink kinds in sorted order.
func SinkKinds() []string {
	kinds := make([]string, 0, len(sinkFactories))
	for k := range sinkFactories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewSink builds the sink registered for ref.Kind.
func NewSink(pipeline string, ref config.SinkRef, deps SinkDeps) (Sink, error) {
	factory, ok := sinkFactories[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSinkKind, ref.Kind)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return factory(pipeline, ref, deps)
}

// sinkEnvelope is the body posted to /sink/{name}.
type sinkEnvelope struct {
	EventData  json.RawMessage   `json:"event_data"`
	Properties map[string]string `json:"properties"`
}

type remoteSink struct {
	name       string
	properties map[string]string
	resolver   discovery.Resolver
	client     Poster
	logger     *slog.Logger
}

func newRemoteSink(pipeline string, ref config.SinkRef, deps SinkDeps) (Sink, error) {
	if deps.Resolver == nil || deps.Client == nil {
		return nil, fmt.Errorf("remote sink %q needs a resolver and a dispatch client", ref.Name)
	}
	props := ref.Properties
	if props == nil {
		props = map[string]string{}
	}
	return &remoteSink{
		name:       ref.Name,
		properties: props,
		resolver:   deps.Resolver,
		client:     deps.Client,
		logger:     deps.Logger.With(logging.Pipeline(pipeline), logging.Sink(ref.Name)),
	}, nil
}

// Deliver resolves the sink service and posts the envelope to it.
func (s *remoteSink) Deliver(ctx context.Context, payload []byte) error {
	baseURL, err := s.resolver.ResolveEndpoint(ctx)
	if err != nil {
		return err
	}

	envelope := sinkEnvelope{
		EventData:  eventData(payload),
		Properties: s.properties,
	}
	resp, err := s.client.Post(ctx, baseURL, "/sink/"+url.PathEscape(s.name), envelope)
	if err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "Event sent to sink",
		logging.URL(baseURL),
		slog.Int("response_bytes", len(resp)))
	return nil
}

// eventData embeds a JSON payload as-is and anything else as a JSON string.
func eventData(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

type loggingSink struct {
	level  slog.Level
	logger *slog.Logger
}

func newLoggingSink(pipeline string, ref config.SinkRef, deps SinkDeps) (Sink, error) {
	logger := deps.Logger.With(logging.Pipeline(pipeline), logging.Sink(ref.Name))

	raw, provided := ref.Properties["log-level"]
	level, known := logging.LookupLevel(raw)
	switch {
	case !provided:
		logger.Warn("Log level not provided for logging sink, using info")
	case !known:
		logger.Warn("Invalid log level for logging sink, using info", slog.String("log_level", raw))
	}

	return &loggingSink{level: level, logger: logger}, nil
}

// Deliver writes the payload to the application log at the configured level.
func (s *loggingSink) Deliver(ctx context.Context, payload []byte) error {
	s.logger.Log(ctx, s.level, string(payload))
	return nil
}
