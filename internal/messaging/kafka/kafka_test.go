package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/auditflow/internal/messaging"
)

func TestProducer_Publish(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, cfg)

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "audit.events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "evt-1" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != messaging.MetadataEventType {
			return errors.New("missing event type header")
		}
		return nil
	})

	p := newProducer(sp)
	defer p.Close()

	err := p.Publish(context.Background(), &messaging.Message{
		Subject:  "audit.events",
		Data:     []byte(`{"eventType":"api.call"}`),
		Key:      "evt-1",
		Metadata: map[string]string{messaging.MetadataEventType: "api.call"},
	})
	assert.NoError(t, err)
}

func TestProducer_PublishRetries(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	sp.ExpectSendMessageAndSucceed()

	p := newProducer(sp, WithRetries(2), WithRetryDelay(time.Millisecond))
	defer p.Close()

	err := p.Publish(context.Background(), &messaging.Message{Subject: "audit.events", Data: []byte(`{}`)})
	assert.NoError(t, err)
}

func TestProducer_PublishGivesUp(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newProducer(sp, WithRetries(1), WithRetryDelay(time.Millisecond))
	defer p.Close()

	err := p.Publish(context.Background(), &messaging.Message{Subject: "audit.events", Data: []byte(`{}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestConfig_InvalidVersion(t *testing.T) {
	_, err := Config{Brokers: []string{"localhost:9092"}, Version: "not-a-version"}.saramaConfig()
	assert.Error(t, err)

	cfg, err := Config{Version: "3.6.0", ClientID: "auditflow"}.saramaConfig()
	require.NoError(t, err)
	assert.Equal(t, sarama.V3_6_0_0, cfg.Version)
	assert.Equal(t, "auditflow", cfg.ClientID)
	assert.True(t, cfg.Producer.Return.Successes)
}

// fakeSession and fakeClaim drive groupHandler.ConsumeClaim without a broker.
type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return map[string][]int32{"audit.events": {0}} }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "audit.events" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newClaim(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{messages: ch}
}

func TestGroupHandler_MarksProcessedMessages(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	var got []*messaging.Message

	h := &groupHandler{
		ctx:    context.Background(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		handler: func(_ context.Context, msg *messaging.Message) error {
			got = append(got, msg)
			return nil
		},
	}

	session := &fakeSession{ctx: context.Background()}
	claim := newClaim(
		&sarama.ConsumerMessage{Topic: "audit.events", Offset: 7, Key: []byte("evt-1"), Value: []byte(`{"a":1}`), Timestamp: ts,
			Headers: []*sarama.RecordHeader{{Key: []byte(messaging.MetadataEventType), Value: []byte("api.call")}}},
		&sarama.ConsumerMessage{Topic: "audit.events", Offset: 8, Value: []byte(`{"a":2}`)},
	)

	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{7, 8}, session.marked)

	require.Len(t, got, 2)
	assert.Equal(t, "audit.events", got[0].Subject)
	assert.Equal(t, "evt-1", got[0].Key)
	assert.Equal(t, ts, got[0].Timestamp)
	assert.Equal(t, "api.call", got[0].Metadata[messaging.MetadataEventType])
	assert.Nil(t, got[1].Metadata)
}

func TestGroupHandler_StopsOnHandlerError(t *testing.T) {
	h := &groupHandler{
		ctx:    context.Background(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		handler: func(_ context.Context, msg *messaging.Message) error {
			if string(msg.Data) == "bad" {
				return errors.New("boom")
			}
			return nil
		},
	}

	session := &fakeSession{ctx: context.Background()}
	claim := newClaim(
		&sarama.ConsumerMessage{Offset: 1, Value: []byte("ok")},
		&sarama.ConsumerMessage{Offset: 2, Value: []byte("bad")},
		&sarama.ConsumerMessage{Offset: 3, Value: []byte("ok")},
	)

	err := h.ConsumeClaim(session, claim)
	require.Error(t, err)
	assert.Equal(t, []int64{1}, session.marked, "offsets after the failure stay unmarked")
}

func TestGroupHandler_StopsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &groupHandler{
		ctx:     context.Background(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		handler: func(context.Context, *messaging.Message) error { return nil },
	}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}
