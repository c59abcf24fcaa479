package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type chainMetrics struct {
	blocksSealed  prometheus.Counter
	blockInterval prometheus.Gauge
	txExecuted    *prometheus.CounterVec
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	chainMetricsOnce sync.Once
	chainRegistry    *chainMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// Chain returns the lazily-initialised registry tracking block sealing and
// transaction execution.
func Chain() *chainMetrics {
	chainMetricsOnce.Do(func() {
		chainRegistry = &chainMetrics{
			blocksSealed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "chain",
				Name:      "blocks_sealed_total",
				Help:      "Total number of blocks sealed and committed.",
			}),
			blockInterval: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "auction",
				Subsystem: "chain",
				Name:      "block_interval_seconds",
				Help:      "Interval in seconds between the timestamps of consecutive committed blocks.",
			}),
			txExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "chain",
				Name:      "transactions_executed_total",
				Help:      "Count of executed transactions segmented by type and outcome.",
			}, []string{"type", "outcome"}),
		}
		prometheus.MustRegister(
			chainRegistry.blocksSealed,
			chainRegistry.blockInterval,
			chainRegistry.txExecuted,
		)
	})
	return chainRegistry
}

// RecordBlockSealed bumps the sealed block counter and records the interval
// since the previous block.
func (m *chainMetrics) RecordBlockSealed(interval time.Duration) {
	if m == nil {
		return
	}
	m.blocksSealed.Inc()
	seconds := interval.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.blockInterval.Set(seconds)
}

// RecordTransaction records the outcome of an executed transaction. Outcomes
// should be stable strings such as "ok" or "failed" so dashboards remain
// consistent.
func (m *chainMetrics) RecordTransaction(txType, outcome string) {
	if m == nil {
		return
	}
	if txType = strings.TrimSpace(txType); txType == "" {
		txType = "unknown"
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.txExecuted.WithLabelValues(txType, outcome).Inc()
}

// RPC returns the registry used to record JSON-RPC handler activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "auction",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records the outcome and latency of a JSON-RPC request.
func (m *rpcMetrics) Observe(method string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if method = strings.TrimSpace(method); method == "" {
		method = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}
