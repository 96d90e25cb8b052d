// Package metrics holds the Prometheus collectors for the order lifecycle,
// the catalog cache and the realtime hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tableside"

var (
	OrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_placed_total",
		Help:      "Orders created in pending status.",
	})

	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Order status writes by target status.",
	}, []string{"to"})

	OptimisticRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "optimistic_rollbacks_total",
		Help:      "Local optimistic mutations reverted after a failed store call.",
	})

	CatalogRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_refreshes_total",
		Help:      "Catalog cache refreshes by result (ok, partial).",
	}, []string{"result"})

	ChangeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "change_events_total",
		Help:      "Row change notifications received from the store, by table.",
	}, []string{"table"})

	RealtimeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_subscribers",
		Help:      "Active change-feed subscriptions.",
	})

	RealtimeDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_subscribers_total",
		Help:      "Subscriptions closed because their queue overflowed.",
	})
)

// Registry holds every collector above plus the Go runtime collectors.
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		OrdersPlaced,
		OrderTransitions,
		OptimisticRollbacks,
		CatalogRefreshes,
		ChangeEvents,
		RealtimeSubscribers,
		RealtimeDropped,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
