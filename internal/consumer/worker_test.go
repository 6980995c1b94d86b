package consumer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/auditflow/internal/messaging"
	"github.com/telhawk-systems/auditflow/internal/middleware"
)

type recordingProcessor struct {
	mu         sync.Mutex
	events     []string
	requestIDs []string
}

func (p *recordingProcessor) ProcessEvent(ctx context.Context, raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, raw)
	p.requestIDs = append(p.requestIDs, middleware.GetRequestID(ctx))
}

// sliceConsumer delivers a fixed set of messages and records handler results.
type sliceConsumer struct {
	messages []*messaging.Message
	results  []error
	closed   bool
}

func (c *sliceConsumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	for _, m := range c.messages {
		c.results = append(c.results, handler(ctx, m))
	}
	return nil
}

func (c *sliceConsumer) Close() error {
	c.closed = true
	return nil
}

func TestWorker_Run(t *testing.T) {
	source := &sliceConsumer{messages: []*messaging.Message{
		{Subject: "audit.events", Data: []byte(`{"eventType":"api.call"}`), Metadata: map[string]string{messaging.MetadataEventID: "evt-1"}},
		{Subject: "audit.events", Data: []byte(`not json`), Key: "evt-2"},
		{Subject: "audit.events", Data: []byte(``)},
	}}
	processor := &recordingProcessor{}

	w := NewWorker(source, processor, "nats", nil)
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{`{"eventType":"api.call"}`, `not json`, ``}, processor.events)
	assert.Equal(t, []error{nil, nil, nil}, source.results, "every message is acknowledged")

	require.Len(t, processor.requestIDs, 3)
	assert.Equal(t, "evt-1", processor.requestIDs[0])
	assert.Equal(t, "evt-2", processor.requestIDs[1])
	assert.NotEmpty(t, processor.requestIDs[2], "a request ID is generated when the message has none")
}
