package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MovementsTotal *prometheus.CounterVec
	MovementErrors *prometheus.CounterVec
	MovementCents  *prometheus.CounterVec
	BalanceLookups *prometheus.CounterVec
	WalletsCreated prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		MovementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_movements_total",
				Help: "Total wallet movements applied.",
			},
			[]string{"direction"},
		),
		MovementErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_movement_errors_total",
				Help: "Total wallet movements rejected.",
			},
			[]string{"direction", "reason"},
		),
		MovementCents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_movement_cents_total",
				Help: "Total cents moved through wallets.",
			},
			[]string{"direction"},
		),
		BalanceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_balance_lookups_total",
				Help: "Total balance lookups.",
			},
			[]string{"status"},
		),
		WalletsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_wallets_created_total",
				Help: "Total wallets auto-provisioned.",
			},
		),
	}

	registry.MustRegister(
		m.MovementsTotal,
		m.MovementErrors,
		m.MovementCents,
		m.BalanceLookups,
		m.WalletsCreated,
	)
	return m
}

func (m *Metrics) observeMovement(direction string, amountCents int64) {
	if m == nil {
		return
	}
	m.MovementsTotal.WithLabelValues(direction).Inc()
	m.MovementCents.WithLabelValues(direction).Add(float64(amountCents))
}

func (m *Metrics) observeMovementError(direction, reason string) {
	if m == nil {
		return
	}
	m.MovementErrors.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) observeLookup(status string) {
	if m == nil {
		return
	}
	m.BalanceLookups.WithLabelValues(status).Inc()
}

func (m *Metrics) observeWalletCreated() {
	if m == nil {
		return
	}
	m.WalletsCreated.Inc()
}
