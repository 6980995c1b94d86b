// Package consumer feeds broker messages into the pipeline orchestrator.
package consumer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/messaging"
	"github.com/telhawk-systems/auditflow/internal/metrics"
	"github.com/telhawk-systems/auditflow/internal/middleware"
)

// Processor handles one raw event. *pipeline.Orchestrator implements it.
type Processor interface {
	ProcessEvent(ctx context.Context, raw string)
}

// Worker consumes audit events and hands each one to a Processor.
type Worker struct {
	source    messaging.Consumer
	processor Processor
	broker    string
	logger    *logging.Logger
}

// NewWorker creates a Worker. broker labels metrics, e.g. "nats".
func NewWorker(source messaging.Consumer, processor Processor, broker string, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		source:    source,
		processor: processor,
		broker:    broker,
		logger:    logger.With(slog.String("component", "consumer"), slog.String("broker", broker)),
	}
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.source.Consume(ctx, w.Handle)
}

// Handle processes one message. Pipeline failures are handled by the
// processor, so every message is acknowledged once processed.
func (w *Worker) Handle(ctx context.Context, msg *messaging.Message) error {
	metrics.MessagesConsumed.WithLabelValues(w.broker).Inc()

	requestID := msg.Metadata[messaging.MetadataEventID]
	if requestID == "" {
		requestID = msg.Key
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = middleware.WithRequestID(ctx, requestID)

	w.logger.DebugContext(ctx, "Received audit event",
		logging.Subject(msg.Subject),
		slog.Int("bytes", len(msg.Data)))

	w.processor.ProcessEvent(ctx, string(msg.Data))
	return nil
}
