// Package shipping works out what an order pays for delivery. The client may
// suggest a cost, but it is only used, bounded, when the carrier cannot be
// asked.
package shipping

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-art-storefront/internal/apperr"
	"github.com/ariefcatur/go-art-storefront/internal/config"
	"github.com/ariefcatur/go-art-storefront/internal/metrics"
)

var tracer = otel.Tracer("storefront/shipping")

// DefaultMaxCarrierCost caps a carrier rate when the config leaves it unset.
const DefaultMaxCarrierCost = 100000

// RateAPI is the carrier's quote endpoint.
type RateAPI interface {
	CalculateCharges(ctx context.Context, destinationPin string, weightKg float64) (decimal.Decimal, error)
}

// Source records where a quote came from.
type Source string

const (
	SourceRule     Source = "rule"
	SourceCarrier  Source = "carrier"
	SourceFallback Source = "fallback"
)

type Request struct {
	Method         Method
	Subtotal       int64
	DestinationPin string
	// ClientCost is what the checkout page showed. Nil when not sent.
	ClientCost *decimal.Decimal
}

type Quote struct {
	Cost   int64
	Source Source
}

type Verifier struct {
	cfg     config.ShippingConfig
	rates   RateAPI
	breaker *Breaker
	log     *zap.Logger
	metrics *metrics.Registry
}

// NewVerifier builds a verifier. rates may be nil when the carrier is not
// configured; carrier orders then always take the fallback path.
func NewVerifier(cfg config.ShippingConfig, rates RateAPI, log *zap.Logger, m *metrics.Registry) *Verifier {
	if cfg.MaxCarrierCost <= 0 {
		cfg.MaxCarrierCost = DefaultMaxCarrierCost
	}
	return &Verifier{
		cfg:     cfg,
		rates:   rates,
		breaker: NewBreaker(cfg.BreakerFailures, cfg.BreakerReset),
		log:     log,
		metrics: m,
	}
}

func (v *Verifier) Verify(ctx context.Context, req Request) (Quote, error) {
	q, err := v.verify(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	if q.Cost < 0 {
		return Quote{}, fmt.Errorf("shipping cost %d from %s is negative", q.Cost, q.Source)
	}
	v.metrics.ShippingQuotes.WithLabelValues(string(req.Method), string(q.Source)).Inc()
	return q, nil
}

func (v *Verifier) verify(ctx context.Context, req Request) (Quote, error) {
	switch req.Method {
	case MethodStandard:
		return Quote{Cost: v.flat(req.Subtotal), Source: SourceRule}, nil
	case MethodCarrier:
		if v.rates != nil {
			amount, err := v.carrierRate(ctx, req.DestinationPin)
			if err == nil {
				return Quote{Cost: roundUp(amount), Source: SourceCarrier}, nil
			}
			v.log.Warn("carrier quote failed, using fallback",
				zap.String("pin", req.DestinationPin),
				zap.String("breaker", v.breaker.State().String()),
				zap.Error(err),
			)
		}
		cost, err := v.fallback(req.ClientCost)
		if err != nil {
			return Quote{}, err
		}
		return Quote{Cost: cost, Source: SourceFallback}, nil
	default:
		return Quote{}, apperr.Validation("Invalid shipping method")
	}
}

func (v *Verifier) flat(subtotal int64) int64 {
	if subtotal >= v.cfg.FreeThreshold {
		return 0
	}
	return v.cfg.FlatRate
}

func (v *Verifier) carrierRate(ctx context.Context, pin string) (decimal.Decimal, error) {
	if pin == "" {
		return decimal.Zero, errors.New("destination postcode missing")
	}
	ctx, cancel := context.WithTimeout(ctx, v.cfg.CarrierTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "shipping.CalculateCharges", trace.WithAttributes(attribute.String("shipping.pin", pin)))
	defer span.End()

	var amount decimal.Decimal
	err := v.breaker.Execute(func() error {
		a, err := v.rates.CalculateCharges(ctx, pin, v.cfg.DefaultWeightKg)
		if err != nil {
			return err
		}
		if !inRange(a, v.cfg.MaxCarrierCost) {
			return fmt.Errorf("carrier returned invalid amount %s", a)
		}
		amount = a
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return decimal.Zero, apperr.Unavailable("carrier unavailable", err)
	}
	return amount, nil
}

// fallback accepts the client's figure only inside [0, MaxClientCost].
// Out-of-range values are rejected rather than clamped into range.
func (v *Verifier) fallback(clientCost *decimal.Decimal) (int64, error) {
	if clientCost == nil {
		return 0, apperr.Validation("Shipping cost is required")
	}
	if !inRange(*clientCost, v.cfg.MaxClientCost) {
		return 0, apperr.Validation("Invalid shipping cost")
	}
	return roundUp(*clientCost), nil
}

func inRange(amount decimal.Decimal, limit int64) bool {
	return !amount.IsNegative() && amount.LessThanOrEqual(decimal.NewFromInt(limit))
}

// roundUp rounds to the next whole currency unit. The amount is first
// snapped to two decimals so 120.0000001 stays 120. Callers bound amount
// with inRange, so the result fits an int64.
func roundUp(amount decimal.Decimal) int64 {
	return amount.Round(2).Ceil().IntPart()
}
