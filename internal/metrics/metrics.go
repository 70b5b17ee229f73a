package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	OrdersPlaced     prometheus.Counter
	PlacementFailed  *prometheus.CounterVec // kind
	PlacementLatency prometheus.Histogram

	Reserved         prometheus.Counter
	ReserveRejected  *prometheus.CounterVec // reason
	Rollbacks        prometheus.Counter
	RollbackFailures prometheus.Counter

	ShippingQuotes *prometheus.CounterVec // method, source

	HTTPRequests *prometheus.CounterVec   // method, route, status
	HTTPLatency  *prometheus.HistogramVec // method, route

	EventsHandled *prometheus.CounterVec // event_type, result
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	placed := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_orders_placed_total"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_order_placement_failures_total"}, []string{"kind"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storefront_order_placement_seconds",
		Buckets: prometheus.DefBuckets,
	})

	reserved := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_inventory_reserved_total"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_inventory_rejected_total"}, []string{"reason"})
	rollbacks := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_inventory_rollbacks_total"})
	rollbackFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_inventory_rollback_failures_total"})

	quotes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_shipping_quotes_total"}, []string{"method", "source"})

	httpReq := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
	httpLat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "storefront_events_handled_total"}, []string{"event_type", "result"})

	r.MustRegister(placed, failed, latency, reserved, rejected, rollbacks, rollbackFailures, quotes, httpReq, httpLat, events)
	return &Registry{
		reg:              r,
		OrdersPlaced:     placed,
		PlacementFailed:  failed,
		PlacementLatency: latency,
		Reserved:         reserved,
		ReserveRejected:  rejected,
		Rollbacks:        rollbacks,
		RollbackFailures: rollbackFailures,
		ShippingQuotes:   quotes,
		HTTPRequests:     httpReq,
		HTTPLatency:      httpLat,
		EventsHandled:    events,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
