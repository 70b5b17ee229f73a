// Package notify turns order events into customer messages. Each event is
// handled at most once per dedup window; delivery itself is behind Mailer.
package notify

import (
	"context"
	"fmt"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-art-storefront/internal/kafka"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
	"github.com/ariefcatur/go-art-storefront/internal/orders"
)

var tracer = otel.Tracer("storefront/notify")

type Message struct {
	UserID  string
	OrderID string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer only logs; the real delivery service lives outside this repo.
type LogMailer struct{ Log *zap.Logger }

func (l LogMailer) Send(_ context.Context, m Message) error {
	l.Log.Info("notification",
		zap.String("user_id", m.UserID),
		zap.String("order_id", m.OrderID),
		zap.String("subject", m.Subject),
	)
	return nil
}

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Dedup   Deduper
	Mailer  Mailer
	Log     *zap.Logger
	Metrics *metrics.Registry
}

// Handle is a kafka.Handler. It returns an error only when the event should
// be redelivered.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, kafkax.HeaderCarrier{Headers: &m.Headers})
	ctx, span := tracer.Start(ctx, "notify.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ev, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// Redelivering a message we cannot parse would only block the partition.
		s.Log.Error("dropping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
		s.count(kafkax.Header(m, kafkax.HeaderEventType), "malformed")
		return nil
	}
	span.SetAttributes(attribute.String("event.type", ev.EventType), attribute.String("order.id", ev.CorrelationID))
	log := s.Log.With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.EventType), zap.String("order_id", ev.CorrelationID))

	msg, ok, err := render(ev)
	if err != nil {
		log.Error("dropping event with bad payload", zap.Error(err))
		s.count(ev.EventType, "malformed")
		return nil
	}
	if !ok {
		s.count(ev.EventType, "ignored")
		return nil
	}

	first, err := s.Dedup.Claim(ctx, ev.EventID)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !first {
		log.Debug("duplicate event skipped")
		s.count(ev.EventType, "duplicate")
		return nil
	}

	if err := s.Mailer.Send(ctx, msg); err != nil {
		if ferr := s.Dedup.Forget(ctx, ev.EventID); ferr != nil {
			log.Warn("dedup forget failed", zap.Error(ferr))
		}
		s.count(ev.EventType, "failed")
		span.RecordError(err)
		return fmt.Errorf("send notification: %w", err)
	}
	s.count(ev.EventType, "sent")
	return nil
}

func (s *Service) count(eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	s.Metrics.EventsHandled.WithLabelValues(eventType, result).Inc()
}

// render builds the customer message for an event. ok is false for events
// nobody needs to hear about.
func render(ev orders.Envelope) (Message, bool, error) {
	switch ev.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](ev.Payload)
		if err != nil {
			return Message{}, false, err
		}
		var b strings.Builder
		for _, it := range p.Items {
			fmt.Fprintf(&b, "%d x %s @ %d\n", it.Quantity, it.Name, it.Price)
		}
		fmt.Fprintf(&b, "Shipping: %d\nTotal: %d\n", p.ShippingCost, p.TotalAmount)
		return Message{UserID: p.UserID, OrderID: p.OrderID, Subject: "Order confirmation", Body: b.String()}, true, nil

	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](ev.Payload)
		if err != nil {
			return Message{}, false, err
		}
		if p.To == orders.StatusConfirmed {
			return Message{}, false, nil
		}
		body := fmt.Sprintf("Your order is now %s.", p.To)
		if p.To == orders.StatusShipped && p.TrackingNumber != "" {
			body += " Tracking number: " + p.TrackingNumber
		}
		return Message{UserID: p.UserID, OrderID: p.OrderID, Subject: "Order " + string(p.To), Body: body}, true, nil

	case orders.EventPaymentStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.PaymentStatusChangedPayload](ev.Payload)
		if err != nil {
			return Message{}, false, err
		}
		if p.To != orders.PaymentFailed && p.To != orders.PaymentRefunded {
			return Message{}, false, nil
		}
		return Message{UserID: p.UserID, OrderID: p.OrderID, Subject: "Payment " + string(p.To), Body: fmt.Sprintf("Payment for order %s is %s.", p.OrderID, p.To)}, true, nil
	}
	return Message{}, false, nil
}
