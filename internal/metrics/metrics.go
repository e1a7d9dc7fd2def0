// Package metrics exposes Prometheus collectors for the settlement core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors registered for one process
type Metrics struct {
	SessionsOpened   *prometheus.CounterVec
	Settlements      *prometheus.CounterVec
	LedgerEntries    *prometheus.CounterVec
	LedgerRetries    *prometheus.CounterVec
	ModifiersApplied *prometheus.CounterVec
	EntropyFailures  prometheus.Counter
	Payouts          *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casino_sessions_opened_total",
				Help: "Total game sessions opened",
			},
			[]string{"game_type"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casino_settlements_total",
				Help: "Total settlement attempts by result",
			},
			[]string{"game_type", "result"},
		),
		LedgerEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casino_ledger_entries_total",
				Help: "Total ledger entries appended",
			},
			[]string{"kind"},
		),
		LedgerRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casino_ledger_retries_total",
				Help: "Ledger writes retried after a version conflict",
			},
			[]string{"kind"},
		),
		ModifiersApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "casino_house_edge_modifiers_total",
				Help: "House-edge modifiers applied to payouts",
			},
			[]string{"modifier"},
		),
		EntropyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "casino_entropy_failures_total",
				Help: "Entropy source failures",
			},
		),
		Payouts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "casino_payout_minor_units",
				Help:    "Adjusted payouts credited at settlement",
				Buckets: prometheus.ExponentialBuckets(100, 4, 10),
			},
			[]string{"game_type"},
		),
	}

	reg.MustRegister(
		m.SessionsOpened,
		m.Settlements,
		m.LedgerEntries,
		m.LedgerRetries,
		m.ModifiersApplied,
		m.EntropyFailures,
		m.Payouts,
	)
	return m
}

func (m *Metrics) SessionOpened(gameType string) {
	if m == nil {
		return
	}
	m.SessionsOpened.WithLabelValues(gameType).Inc()
}

// Settlement records one settlement attempt; result is settled, failed or replayed
func (m *Metrics) Settlement(gameType, result string, payout int64) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(gameType, result).Inc()
	if result == "settled" {
		m.Payouts.WithLabelValues(gameType).Observe(float64(payout))
	}
}

func (m *Metrics) LedgerEntry(kind string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(kind).Inc()
}

func (m *Metrics) LedgerRetry(kind string) {
	if m == nil {
		return
	}
	m.LedgerRetries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ModifierApplied(name string) {
	if m == nil {
		return
	}
	m.ModifiersApplied.WithLabelValues(name).Inc()
}

func (m *Metrics) EntropyFailure() {
	if m == nil {
		return
	}
	m.EntropyFailures.Inc()
}
