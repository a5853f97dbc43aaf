// Package metrics wires prometheus instrumentation for the engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "b5engine"
)

var (
	mu sync.RWMutex

	Registry = prometheus.NewRegistry()

	derivedRowsComputed = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "derive",
		Name:      "rows_computed_total",
		Help:      "Total derived rows computed, by timeframe and factor.",
	}, []string{"timeframe", "factor"})

	deriveCycleSeconds = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "derive",
		Name:      "cycle_seconds",
		Help:      "Wall-clock time to compute one derived-row cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"timeframe", "factor"})

	cacheHits = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Derived-row cache hits.",
	}, []string{"timeframe", "factor"})

	cacheMisses = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Derived-row cache misses.",
	}, []string{"timeframe", "factor"})

	openTrades = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "papertrade",
		Name:      "open_trades",
		Help:      "Current count of OPEN paper trades.",
	})

	tradesEnteredTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "papertrade",
		Name:      "entries_total",
		Help:      "Total accepted paper-trade entries.",
	})

	tradesClosedTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "papertrade",
		Name:      "closed_total",
		Help:      "Total closed paper trades, by reason.",
	}, []string{"reason"})

	netPNL = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "papertrade",
		Name:      "net_pnl_total",
		Help:      "Sum of net_pnl across closed trades.",
	})

	brokerOrdersRemainingPct = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "orders_remaining_pct",
		Help:      "Remaining percentage (0-100) of max_orders_per_day.",
	})

	brokerPositionsRemainingPct = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "positions_remaining_pct",
		Help:      "Remaining percentage (0-100) of max_open_positions.",
	})

	brokerMarginUsedPct = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "margin_used_pct",
		Help:      "Advisory margin-used percentage; not a blocking threshold.",
	})
)

// Init registers the standard process/Go collectors on Registry.
func Init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an http.Handler serving Registry in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordDeriveCycle(timeframe, factorName string, rows int, seconds float64) {
	mu.RLock()
	defer mu.RUnlock()
	derivedRowsComputed.WithLabelValues(timeframe, factorName).Add(float64(rows))
	deriveCycleSeconds.WithLabelValues(timeframe, factorName).Observe(seconds)
}

func RecordCacheHit(timeframe, factorName string)  { cacheHits.WithLabelValues(timeframe, factorName).Inc() }
func RecordCacheMiss(timeframe, factorName string) { cacheMisses.WithLabelValues(timeframe, factorName).Inc() }

func RecordEntry()                    { tradesEnteredTotal.Inc() }
func RecordClose(reason string)       { tradesClosedTotal.WithLabelValues(reason).Inc() }
func SetOpenTrades(n int)             { openTrades.Set(float64(n)) }
func AddNetPNL(delta float64)         { netPNL.Add(delta) }

// UpdateBrokerMetrics refreshes the broker-limits gauges from a
// current status snapshot.
func UpdateBrokerMetrics(ordersRemainingPct, positionsRemainingPct, marginUsedPct float64) {
	mu.Lock()
	defer mu.Unlock()
	brokerOrdersRemainingPct.Set(ordersRemainingPct)
	brokerPositionsRemainingPct.Set(positionsRemainingPct)
	brokerMarginUsedPct.Set(marginUsedPct)
}
