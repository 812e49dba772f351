package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	requests        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	treasuryReserve prometheus.Gauge
	shortfallBuffer prometheus.Gauge
	shortfalls      prometheus.Counter
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics
)

// EngineMetrics returns the lazily-initialised metrics registry for yield
// engine operations served by the operator service.
func EngineMetrics() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xsauce",
				Subsystem: "yield",
				Name:      "requests_total",
				Help:      "Total engine operations segmented by op and outcome.",
			}, []string{"op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "xsauce",
				Subsystem: "yield",
				Name:      "errors_total",
				Help:      "Total engine operation failures segmented by op.",
			}, []string{"op"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "xsauce",
				Subsystem: "yield",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			treasuryReserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "xsauce",
				Subsystem: "yield",
				Name:      "treasury_reserve_wei",
				Help:      "Yield earmarked for the treasury, in wei (float approximation).",
			}),
			shortfallBuffer: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "xsauce",
				Subsystem: "yield",
				Name:      "shortfall_buffer_wei",
				Help:      "Value owed to the market pending pool liquidity, in wei (float approximation).",
			}),
			shortfalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "xsauce",
				Subsystem: "yield",
				Name:      "shortfalls_total",
				Help:      "Count of pool withdrawals absorbed into the shortfall buffer.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.requests,
			engineRegistry.errors,
			engineRegistry.latency,
			engineRegistry.treasuryReserve,
			engineRegistry.shortfallBuffer,
			engineRegistry.shortfalls,
		)
	})
	return engineRegistry
}

// Observe records the outcome and latency of an engine operation.
func (m *engineMetrics) Observe(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetReserves updates the reserve gauges from the engine's durable counters.
// Values beyond float64 precision are approximated; the gauges are trend
// indicators, not accounting sources.
func (m *engineMetrics) SetReserves(treasuryWei, shortfallWei *big.Int) {
	if m == nil {
		return
	}
	m.treasuryReserve.Set(approximate(treasuryWei))
	m.shortfallBuffer.Set(approximate(shortfallWei))
}

// RecordShortfall counts a withdrawal absorbed into the buffer.
func (m *engineMetrics) RecordShortfall() {
	if m == nil {
		return
	}
	m.shortfalls.Inc()
}

func approximate(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
