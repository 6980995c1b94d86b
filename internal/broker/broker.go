// Package broker opens the configured message broker for the worker and the ingress.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/messaging"
	"github.com/telhawk-systems/auditflow/internal/messaging/kafka"
	natsmsg "github.com/telhawk-systems/auditflow/internal/messaging/nats"
)

// Source is a consumer that can also report its health.
type Source interface {
	messaging.Consumer
	messaging.HealthChecker
}

// Sink is a publisher that can also report its health.
type Sink interface {
	messaging.Publisher
	messaging.HealthChecker
}

// OpenSource connects to the broker and returns the durable subscription the
// worker consumes. Connection attempts are retried with exponential backoff
// for up to cfg.ConnectMaxElapsed.
func OpenSource(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case config.BrokerNATS:
		client, err := connectJetStream(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &natsSource{Subscription: client.Subscribe(cfg.NATS.Stream, cfg.NATS.Consumer), client: client}, nil

	case config.BrokerKafka:
		group, err := retry(ctx, cfg, logger, func() (*kafka.ConsumerGroup, error) {
			return kafka.NewConsumerGroup(kafkaConfig(cfg), cfg.Subject, logger)
		})
		if err != nil {
			return nil, err
		}
		return group, nil
	}
	return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
}

// OpenSink connects the publisher used by the ingress.
func OpenSink(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case config.BrokerNATS:
		client, err := connectJetStream(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.BrokerKafka:
		producer, err := retry(ctx, cfg, logger, func() (*kafka.Producer, error) {
			return kafka.NewProducer(kafkaConfig(cfg))
		})
		if err != nil {
			return nil, err
		}
		return producer, nil
	}
	return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
}

// connectJetStream connects and makes sure the stream and the durable
// consumer exist.
func connectJetStream(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (*natsmsg.JetStreamClient, error) {
	client, err := retry(ctx, cfg, logger, func() (*natsmsg.JetStreamClient, error) {
		natsCfg := natsmsg.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.User = cfg.NATS.User
		natsCfg.Password = cfg.NATS.Password
		natsCfg.Token = cfg.NATS.Token
		if cfg.NATS.ReconnectWait > 0 {
			natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		}
		if cfg.NATS.ConnectTimeout > 0 {
			natsCfg.Timeout = cfg.NATS.ConnectTimeout
		}
		return natsmsg.NewJetStreamClient(natsCfg, logger)
	})
	if err != nil {
		return nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := client.CreateOrUpdateStream(setupCtx, natsmsg.AuditEventsStream(cfg.NATS.Stream, cfg.Subject)); err != nil {
		_ = client.Close()
		return nil, err
	}

	consumerCfg := natsmsg.DefaultConsumerConfig(cfg.NATS.Consumer, cfg.Subject)
	if cfg.NATS.AckWait > 0 {
		consumerCfg.AckWait = cfg.NATS.AckWait
	}
	if cfg.NATS.MaxAckPending > 0 {
		consumerCfg.MaxAckPending = cfg.NATS.MaxAckPending
	}
	if _, err := client.CreateOrUpdateConsumer(setupCtx, cfg.NATS.Stream, consumerCfg); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func kafkaConfig(cfg config.BrokerConfig) kafka.Config {
	return kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.GroupID,
		ClientID: cfg.Kafka.ClientID,
		Version:  cfg.Kafka.Version,
	}
}

// retry calls connect until it succeeds, ctx ends or cfg.ConnectMaxElapsed passes.
func retry[T any](ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger, connect func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = cfg.ConnectMaxElapsed

	attempt := 0
	result, err := backoff.RetryNotifyWithData(connect, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		attempt++
		logger.Warn("Broker connection failed, retrying",
			slog.String("broker", cfg.Type),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", next),
			slog.String("error", err.Error()))
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("connect to %s: %w", cfg.Type, err)
	}
	logger.Info("Connected to broker", slog.String("broker", cfg.Type))
	return result, nil
}

// natsSource owns the client behind the subscription.
type natsSource struct {
	*natsmsg.Subscription
	client *natsmsg.JetStreamClient
}

func (s *natsSource) CheckHealth(ctx context.Context) error {
	return s.client.CheckHealth(ctx)
}
