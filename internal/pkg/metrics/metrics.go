// Package metrics holds the Prometheus collectors for the storefront. All
// methods are safe on a nil *Metrics so components can run unmetered in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

type Metrics struct {
	registry *prometheus.Registry

	ordersCreated   prometheus.Counter
	orderFailures   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	securityRejects *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders persisted with their stock reserved.",
		}),
		orderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_create_failures_total",
			Help:      "Rejected order creations by error kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Effective order status transitions.",
		}, []string{"from", "to", "origin"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by channel and outcome (applied, duplicate, rejected).",
		}, []string{"channel", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Processor notifications by event type and result.",
		}, []string{"event", "result"}),
		securityRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_rejections_total",
			Help:      "Requests rejected for invalid signatures or amount tampering.",
		}, []string{"reason"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of calls to the payment processor.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}

	reg.MustRegister(
		m.ordersCreated,
		m.orderFailures,
		m.transitions,
		m.settlements,
		m.webhookEvents,
		m.securityRejects,
		m.gatewayLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) OrderFailed(kind string) {
	if m == nil {
		return
	}
	m.orderFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Transition(from, to, origin string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, origin).Inc()
}

func (m *Metrics) Settlement(channel, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) WebhookEvent(event, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) SecurityReject(reason string) {
	if m == nil {
		return
	}
	m.securityRejects.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveGateway(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation, result).Observe(d.Seconds())
}
