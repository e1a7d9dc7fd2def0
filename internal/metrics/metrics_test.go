package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened("roulette")
	m.Settlement("roulette", "settled", 3600)
	m.Settlement("roulette", "failed", 0)
	m.LedgerEntry("wager")
	m.LedgerRetry("wager")
	m.EntropyFailure()

	if got := testutil.ToFloat64(m.SessionsOpened.WithLabelValues("roulette")); got != 1 {
		t.Errorf("Expected 1 session opened, got %v", got)
	}
	if got := testutil.ToFloat64(m.Settlements.WithLabelValues("roulette", "failed")); got != 1 {
		t.Errorf("Expected 1 failed settlement, got %v", got)
	}
	if got := testutil.ToFloat64(m.EntropyFailures); got != 1 {
		t.Errorf("Expected 1 entropy failure, got %v", got)
	}
	if got := testutil.CollectAndCount(m.Payouts); got != 1 {
		t.Errorf("Expected 1 payout series, got %d", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionOpened("slots")
	m.Settlement("slots", "settled", 10)
	m.LedgerEntry("payout")
	m.LedgerRetry("payout")
	m.ModifierApplied("peak_hours")
	m.EntropyFailure()
}
