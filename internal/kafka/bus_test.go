package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type captured struct {
	topic   string
	key     []byte
	value   []byte
	headers []kafka.Header
}

type recorder struct {
	mu   sync.Mutex
	msgs []captured
}

func (r *recorder) Publish(_ context.Context, topic string, key, value []byte, headers ...kafka.Header) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, captured{topic, key, value, headers})
	return nil
}

func TestBusEmitWrapsEnvelope(t *testing.T) {
	rec := &recorder{}
	bus := NewBus(rec, "storefront-api")
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return at }

	err := bus.Emit(context.Background(), orders.TopicOrderPaid, orders.EventOrderPaid, "o1",
		orders.OrderPaidPayload{OrderID: "o1", PaymentRef: "pi_1", AmountCents: 1500})
	require.NoError(t, err)

	require.Len(t, rec.msgs, 1)
	m := rec.msgs[0]
	assert.Equal(t, orders.TopicOrderPaid, m.topic)
	assert.Equal(t, []byte("o1"), m.key)
	assert.Equal(t, "x-event-type", m.headers[0].Key)
	assert.Equal(t, orders.EventOrderPaid, string(m.headers[0].Value))

	env, err := UnmarshalEnvelope(m.value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderPaid, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "storefront-api", env.Producer)
	assert.Equal(t, "o1", env.CorrelationID)
	assert.True(t, env.OccurredAt.Equal(at))
	assert.NotEmpty(t, env.EventID)

	p, err := UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), p.AmountCents)
}

func TestBusEnqueueUsesFollowupTopic(t *testing.T) {
	rec := &recorder{}
	bus := NewBus(rec, "storefront-api")

	task := orders.FollowupTask{Kind: orders.FollowupIndexAppend, OrderID: "o1", UserID: "u1"}
	require.NoError(t, bus.Enqueue(context.Background(), task))

	require.Len(t, rec.msgs, 1)
	assert.Equal(t, orders.TopicFollowup, rec.msgs[0].topic)
	env, err := UnmarshalEnvelope(rec.msgs[0].value)
	require.NoError(t, err)
	got, err := UnwrapPayload[orders.FollowupTask](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestProducerRejectsPublishAfterClose(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, 4, logging.Discard())
	p.Close()
	p.Close()
	err := p.Publish(context.Background(), "t", nil, []byte("x"))
	assert.ErrorIs(t, err, ErrProducerClosed)
}
