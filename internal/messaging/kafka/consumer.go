package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/telhawk-systems/auditflow/internal/messaging"
)

// ConsumerGroup consumes one topic as a member of a consumer group.
// It implements messaging.Consumer.
type ConsumerGroup struct {
	client sarama.Client
	group  sarama.ConsumerGroup
	topic  string
	logger *slog.Logger
}

// NewConsumerGroup joins cfg.GroupID to consume topic.
func NewConsumerGroup(cfg Config, topic string, logger *slog.Logger) (*ConsumerGroup, error) {
	if logger == nil {
		logger = slog.Default()
	}
	saramaCfg, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create consumer group %s: %w", cfg.GroupID, err)
	}

	return &ConsumerGroup{
		client: client,
		group:  group,
		topic:  topic,
		logger: logger.With(
			slog.String("component", "kafka"),
			slog.String("topic", topic),
			slog.String("group", cfg.GroupID)),
	}, nil
}

// Consume runs consumer-group sessions until ctx is cancelled. Offsets are
// marked after handler returns nil. A handler error ends the session so the
// unmarked message is delivered again after the group rejoins.
func (c *ConsumerGroup) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range c.group.Errors() {
			c.logger.Warn("Kafka consumer error", slog.String("error", err.Error()))
		}
	}()
	defer wg.Wait()
	defer c.group.Close()

	h := &groupHandler{handler: handler, ctx: context.WithoutCancel(ctx), logger: c.logger}

	c.logger.Info("Consuming audit events")
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if ctx.Err() == nil {
				c.logger.Warn("Consumer group session ended with error, rejoining", slog.String("error", err.Error()))
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("Stopped consuming audit events")
			return nil
		}
	}
}

// CheckHealth refreshes the topic metadata from the brokers.
func (c *ConsumerGroup) CheckHealth(context.Context) error {
	if c.client.Closed() {
		return errors.New("not connected to message broker")
	}
	if err := c.client.RefreshMetadata(c.topic); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close leaves the group and closes the client.
func (c *ConsumerGroup) Close() error {
	err := c.group.Close()
	if cerr := c.client.Close(); cerr != nil && !errors.Is(cerr, sarama.ErrClosedClient) {
		err = errors.Join(err, cerr)
	}
	return err
}

// groupHandler adapts a MessageHandler to sarama.ConsumerGroupHandler.
type groupHandler struct {
	handler messaging.MessageHandler
	ctx     context.Context
	logger  *slog.Logger
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("Partitions assigned", slog.Any("claims", session.Claims()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(h.ctx, toMessage(msg)); err != nil {
				return fmt.Errorf("handle %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func toMessage(msg *sarama.ConsumerMessage) *messaging.Message {
	m := &messaging.Message{
		Subject:   msg.Topic,
		Data:      msg.Value,
		Key:       string(msg.Key),
		Timestamp: msg.Timestamp,
	}
	if len(msg.Headers) > 0 {
		m.Metadata = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			if h != nil {
				m.Metadata[string(h.Key)] = string(h.Value)
			}
		}
	}
	return m
}
