package settle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	PassesTotal    *prometheus.CounterVec
	PassDuration   *prometheus.HistogramVec
	TradesExecuted *prometheus.CounterVec
	ReceiptsTotal  *prometheus.CounterVec
	RegionBusy     prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_passes_total",
				Help: "Total matching passes by outcome.",
			},
			[]string{"status"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_pass_duration_seconds",
				Help:    "Matching pass duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"region"},
		),
		TradesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_trades_executed_total",
				Help: "Total trades settled by matching passes.",
			},
			[]string{"region"},
		),
		ReceiptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "match_receipts_total",
				Help: "Total receipt attempts by outcome.",
			},
			[]string{"status"},
		),
		RegionBusy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "match_region_busy_total",
				Help: "Total passes rejected because the region was busy.",
			},
		),
	}

	registry.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.TradesExecuted,
		m.ReceiptsTotal,
		m.RegionBusy,
	)
	return m
}

func (m *Metrics) observePass(status, region string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(status).Inc()
	m.PassDuration.WithLabelValues(region).Observe(duration.Seconds())
}

func (m *Metrics) observeTrades(region string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.TradesExecuted.WithLabelValues(region).Add(float64(count))
}

func (m *Metrics) observeReceipt(status string) {
	if m == nil {
		return
	}
	m.ReceiptsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) observeRegionBusy() {
	if m == nil {
		return
	}
	m.RegionBusy.Inc()
}
