package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/auditflow/internal/messaging"
)

// JetStreamClient publishes to and consumes from JetStream streams.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig describes the stream holding published audit events.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxBytes int64

	// Duplicates is the window in which a repeated Nats-Msg-Id is dropped.
	Duplicates time.Duration
	Retention  jetstream.RetentionPolicy
	Storage    jetstream.StorageType
}

// ConsumerConfig describes the durable pull consumer of the worker.
type ConsumerConfig struct {
	Name          string
	FilterSubject string

	// AckWait is how long a delivered event may stay unacknowledged before
	// the server redelivers it.
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

// AuditEventsStream returns the stream that captures published audit events.
// Work-queue retention removes each event once the worker acknowledges it.
func AuditEventsStream(name, subject string) StreamConfig {
	return StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		MaxAge:     24 * time.Hour,
		MaxBytes:   1 << 30,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DefaultConsumerConfig gives up on an event after three deliveries.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 100,
	}
}

// NewJetStreamClient connects and opens the JetStream context.
func NewJetStreamClient(cfg Config, logger *slog.Logger) (*JetStreamClient, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Duplicates: cfg.Duplicates,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return consumer, nil
}

// Publish stores msg in JetStream and waits for the acknowledgment.
// msg.Key becomes the Nats-Msg-Id so retried publishes are de-duplicated.
func (c *JetStreamClient) Publish(ctx context.Context, msg *messaging.Message) error {
	natsMsg := &nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
	}

	if len(msg.Metadata) > 0 {
		natsMsg.Header = make(nats.Header)
		for k, v := range msg.Metadata {
			natsMsg.Header.Set(k, v)
		}
	}

	var opts []jetstream.PublishOpt
	if msg.Key != "" {
		opts = append(opts, jetstream.WithMsgID(msg.Key))
	}

	if _, err := c.js.PublishMsg(ctx, natsMsg, opts...); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// Subscription consumes a durable JetStream consumer. It implements
// messaging.Consumer.
type Subscription struct {
	client   *JetStreamClient
	stream   string
	consumer string
	nakDelay time.Duration
	logger   *slog.Logger
}

// Subscribe returns a Subscription for an existing stream and consumer.
func (c *JetStreamClient) Subscribe(stream, consumer string) *Subscription {
	return &Subscription{
		client:   c,
		stream:   stream,
		consumer: consumer,
		nakDelay: 5 * time.Second,
		logger: c.logger.With(
			slog.String("stream", stream),
			slog.String("consumer", consumer)),
	}
}

// Consume delivers messages to handler until ctx is cancelled. A message is
// acknowledged when handler returns nil and negatively acknowledged with a
// delay otherwise. Handlers run with a context that is not cancelled on
// shutdown; Consume waits for the in-flight handler before returning.
func (s *Subscription) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	consumer, err := s.client.js.Consumer(ctx, s.stream, s.consumer)
	if err != nil {
		return fmt.Errorf("failed to get consumer %s: %w", s.consumer, err)
	}

	handlerCtx := context.WithoutCancel(ctx)
	// held while a handler runs; callbacks of one ConsumeContext are sequential
	var handling sync.Mutex

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		handling.Lock()
		defer handling.Unlock()

		if err := handler(handlerCtx, toMessage(msg)); err != nil {
			s.logger.Warn("Handler failed, message will be redelivered",
				slog.String("subject", msg.Subject()),
				slog.String("error", err.Error()))
			_ = msg.NakWithDelay(s.nakDelay)
			return
		}

		if err := msg.Ack(); err != nil {
			s.logger.Warn("Failed to acknowledge message", slog.String("error", err.Error()))
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		s.logger.Warn("JetStream consume error", slog.String("error", err.Error()))
	}))
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	s.logger.Info("Consuming audit events")
	<-ctx.Done()

	cons.Stop()
	handling.Lock()
	handling.Unlock() //nolint:staticcheck // waits for the in-flight handler
	s.logger.Info("Stopped consuming audit events")
	return nil
}

// Close drains the underlying connection.
func (s *Subscription) Close() error {
	return s.client.Drain()
}

func toMessage(msg jetstream.Msg) *messaging.Message {
	m := &messaging.Message{
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		Timestamp: time.Now(),
	}

	if meta, err := msg.Metadata(); err == nil {
		m.Timestamp = meta.Timestamp
	}

	if headers := msg.Headers(); headers != nil {
		m.Metadata = make(map[string]string)
		for k := range headers {
			m.Metadata[k] = headers.Get(k)
		}
		m.Key = headers.Get(jetstream.MsgIDHeader)
	}

	return m
}
