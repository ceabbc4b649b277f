package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/telemetry"
)

const envelopeVersion = 1

// Bus wraps payloads in the v1 envelope and publishes them keyed by order id.
type Bus struct {
	pub      Publisher
	producer string
	now      func() time.Time
}

func NewBus(pub Publisher, producer string) *Bus {
	return &Bus{pub: pub, producer: producer, now: func() time.Time { return time.Now().UTC() }}
}

func (b *Bus) Emit(ctx context.Context, topic, eventType, orderID string, payload any) error {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    b.now(),
		Producer:      b.producer,
		CorrelationID: orderID,
		Payload:       MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	headers := telemetry.InjectKafkaHeaders(ctx, []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	})
	return b.pub.Publish(ctx, topic, orders.PartitionKey(orderID), MustMarshal(ev), headers...)
}

// Enqueue publishes a follow-up task for the worker.
func (b *Bus) Enqueue(ctx context.Context, task orders.FollowupTask) error {
	return b.Emit(ctx, orders.TopicFollowup, orders.EventFollowupRequested, task.OrderID, task)
}
