// Package messaging provides abstractions for the broker that carries audit events.
// It lets the worker and the ingress run on NATS JetStream or Kafka without
// being coupled to either client library.
package messaging

import (
	"context"
	"time"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the subject (NATS) or topic (Kafka) the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Key is the partition key, empty for NATS.
	Key string

	// Metadata contains optional key-value pairs from message headers.
	Metadata map[string]string

	// Timestamp is when the message was published, or received when the
	// broker does not record it.
	Timestamp time.Time
}

// MessageHandler processes a received message.
// Return an error to indicate processing failure (may trigger redelivery
// depending on the implementation).
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends msg to msg.Subject and waits for the broker to accept it.
	// A non-empty Key is used for de-duplication (NATS) or partitioning (Kafka).
	Publish(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Consumer delivers messages from a durable subscription.
type Consumer interface {
	// Consume invokes handler for each message until ctx is cancelled or the
	// subscription fails. It returns nil after a clean shutdown.
	Consume(ctx context.Context, handler MessageHandler) error

	// Close releases the underlying connection.
	Close() error
}

// Metadata keys set by publishers.
const (
	MetadataEventID   = "Audit-Event-Id"
	MetadataEventType = "Audit-Event-Type"
)
