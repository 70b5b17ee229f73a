package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPlaced          = "OrderPlaced"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventPaymentStatusChanged = "PaymentStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as version 1 of eventType.
func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

type OrderPlacedPayload struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	Items          []Item `json:"items"`
	Subtotal       int64  `json:"subtotal"`
	ShippingCost   int64  `json:"shipping_cost"`
	TotalAmount    int64  `json:"total_amount"`
	ShippingMethod string `json:"shipping_method"`
}

type OrderStatusChangedPayload struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	From           Status `json:"from"`
	To             Status `json:"to"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type PaymentStatusChangedPayload struct {
	OrderID string        `json:"order_id"`
	UserID  string        `json:"user_id"`
	From    PaymentStatus `json:"from"`
	To      PaymentStatus `json:"to"`
}

func PlacedPayload(o Order) OrderPlacedPayload {
	return OrderPlacedPayload{
		OrderID:        o.ID,
		UserID:         o.User,
		Items:          o.Items,
		Subtotal:       o.Subtotal,
		ShippingCost:   o.ShippingCost,
		TotalAmount:    o.TotalAmount,
		ShippingMethod: string(o.ShippingMethod),
	}
}
