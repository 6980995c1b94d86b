package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/telhawk-systems/auditflow/internal/messaging"
)

// Producer publishes messages with a synchronous producer and retries
// failed sends with exponential backoff. It implements messaging.Publisher.
type Producer struct {
	// client is nil when the producer was built around an existing SyncProducer.
	client     sarama.Client
	producer   sarama.SyncProducer
	maxRetries uint64
	retryDelay time.Duration
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n uint64) ProducerOption {
	return func(p *Producer) { p.maxRetries = n }
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) ProducerOption {
	return func(p *Producer) { p.retryDelay = d }
}

// NewProducer connects a synchronous producer to the brokers.
func NewProducer(cfg Config, opts ...ProducerOption) (*Producer, error) {
	saramaCfg, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	p := newProducer(producer, opts...)
	p.client = client
	return p, nil
}

func newProducer(producer sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{
		producer:   producer,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends msg to the topic msg.Subject. msg.Key selects the partition.
func (p *Producer) Publish(ctx context.Context, msg *messaging.Message) error {
	pm := &sarama.ProducerMessage{
		Topic: msg.Subject,
		Value: sarama.ByteEncoder(msg.Data),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	for k, v := range msg.Metadata {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)

	err := backoff.Retry(func() error {
		_, _, err := p.producer.SendMessage(pm)
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// CheckHealth refreshes cluster metadata from the brokers.
func (p *Producer) CheckHealth(context.Context) error {
	if p.client == nil {
		return nil
	}
	if p.client.Closed() {
		return errors.New("not connected to message broker")
	}
	if err := p.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close shuts down the producer and its client.
func (p *Producer) Close() error {
	err := p.producer.Close()
	if p.client != nil {
		if cerr := p.client.Close(); cerr != nil && !errors.Is(cerr, sarama.ErrClosedClient) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}
