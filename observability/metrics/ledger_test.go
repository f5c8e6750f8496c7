package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLedgerMetricsCounters(t *testing.T) {
	m := Ledger()
	if m != Ledger() {
		t.Fatalf("registry must be a singleton")
	}

	before := testutil.ToFloat64(m.transactions.WithLabelValues("mint", "error"))
	m.ObserveTransaction("mint", time.Millisecond, errors.New("boom"))
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("mint", "error")); got != before+1 {
		t.Fatalf("unexpected transaction count %v", got)
	}

	mintedBefore := testutil.ToFloat64(m.minted)
	m.AddMinted(3)
	m.AddMinted(-1)
	if got := testutil.ToFloat64(m.minted); got != mintedBefore+3 {
		t.Fatalf("unexpected minted count %v", got)
	}

	m.ObserveEvent("")
	if got := testutil.ToFloat64(m.events.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected unknown event bucket to be incremented")
	}

	var nilMetrics *LedgerMetrics
	nilMetrics.IncClaims()
}
