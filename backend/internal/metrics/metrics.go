// Package metrics holds the exchange's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	matchingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_matching_latency_seconds",
		Help:    "Latency of one matching unit of work in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	tradesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Total number of committed trades.",
		},
		[]string{"ticker"},
	)
	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_orders_rejected_total",
			Help: "Orders rejected, by error kind.",
		},
		[]string{"kind"},
	)
	sweepPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_sweep_instruments_total",
			Help: "Instruments visited by the background sweep, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			matchingLatency,
			tradesExecuted,
			ordersRejected,
			sweepPasses,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveMatchingLatency records how long an operation ("place", "cancel", "sweep") took.
func ObserveMatchingLatency(operation string, d time.Duration) {
	Init()
	matchingLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// AddTrades counts n committed trades for a ticker.
func AddTrades(ticker string, n int) {
	Init()
	if n <= 0 {
		return
	}
	tradesExecuted.WithLabelValues(ticker).Add(float64(n))
}

// IncOrderRejected counts a rejected order.
func IncOrderRejected(kind string) {
	Init()
	ordersRejected.WithLabelValues(kind).Inc()
}

// IncSweep counts one instrument visited by the sweep; outcome is "ok" or "error".
func IncSweep(outcome string) {
	Init()
	sweepPasses.WithLabelValues(outcome).Inc()
}
