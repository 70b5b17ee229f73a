package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-art-storefront/internal/orders"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Queue is the part of Producer that OrderEvents needs.
type Queue interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// OrderEvents publishes order envelopes keyed by order id, carrying the
// caller's trace context in the headers.
type OrderEvents struct {
	Queue   Queue
	Service string
}

func (e *OrderEvents) Publish(ctx context.Context, ev orders.Envelope) error {
	ev.Producer = e.Service
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(ev.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{Headers: &headers})
	return e.Queue.Publish(ctx, orders.PartitionKey(ev.CorrelationID), value, headers...)
}
