// Package metrics exposes router counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components can take one unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshrouter"

// Metrics holds the router's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	messagesRouted    *prometheus.CounterVec
	pendingOperations prometheus.Gauge
	routingEntries    prometheus.Gauge
	queuedMessages    prometheus.Gauge
	transmitFailures  prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Messages handled by the router, by outcome.",
		}, []string{"outcome"}),
		pendingOperations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operations",
			Help:      "Parent-router operations waiting for the parent link.",
		}),
		routingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_entries",
			Help:      "Entries in the in-memory routing table.",
		}),
		queuedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_messages",
			Help:      "Messages waiting for an unknown participant to register.",
		}),
		transmitFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transmit_failures_total",
			Help:      "Transport transmissions that returned an error.",
		}),
	}

	m.registry.MustRegister(
		m.messagesRouted,
		m.pendingOperations,
		m.routingEntries,
		m.queuedMessages,
		m.transmitFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// MessageRouted counts one routed message
func (m *Metrics) MessageRouted(outcome string) {
	if m == nil {
		return
	}
	m.messagesRouted.WithLabelValues(outcome).Inc()
}

// TransmitFailed counts one failed transmission
func (m *Metrics) TransmitFailed() {
	if m == nil {
		return
	}
	m.transmitFailures.Inc()
}

func (m *Metrics) SetPendingOperations(n int) {
	if m == nil {
		return
	}
	m.pendingOperations.Set(float64(n))
}

func (m *Metrics) SetRoutingEntries(n int) {
	if m == nil {
		return
	}
	m.routingEntries.Set(float64(n))
}

func (m *Metrics) SetQueuedMessages(n int) {
	if m == nil {
		return
	}
	m.queuedMessages.Set(float64(n))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
