package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	transactions *prometheus.CounterVec
	txDuration   *prometheus.HistogramVec
	events       *prometheus.CounterVec
	minted       prometheus.Counter
	claims       prometheus.Counter
	gatedReads   *prometheus.CounterVec
	rpcRequests  *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the lazily-initialised registry shared by the node and RPC
// server.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "codice",
				Subsystem: "node",
				Name:      "transactions_total",
				Help:      "Transactions executed segmented by type and outcome.",
			}, []string{"type", "outcome"}),
			txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "codice",
				Subsystem: "node",
				Name:      "transaction_duration_seconds",
				Help:      "Time spent executing and committing a transaction.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "codice",
				Subsystem: "node",
				Name:      "events_total",
				Help:      "Committed events segmented by type.",
			}, []string{"type"}),
			minted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "codice",
				Subsystem: "certificate",
				Name:      "minted_total",
				Help:      "Certificates minted across all ledgers.",
			}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "codice",
				Subsystem: "listing",
				Name:      "claims_total",
				Help:      "Listings claimed across all coordinators.",
			}),
			gatedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "codice",
				Subsystem: "certificate",
				Name:      "authentications_total",
				Help:      "Gated document reads segmented by outcome.",
			}, []string{"outcome"}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "codice",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.transactions,
			ledgerRegistry.txDuration,
			ledgerRegistry.events,
			ledgerRegistry.minted,
			ledgerRegistry.claims,
			ledgerRegistry.gatedReads,
			ledgerRegistry.rpcRequests,
		)
	})
	return ledgerRegistry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *LedgerMetrics) ObserveTransaction(txType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	m.transactions.WithLabelValues(txType, outcome(err)).Inc()
	m.txDuration.WithLabelValues(txType).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *LedgerMetrics) AddMinted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.minted.Add(float64(n))
}

func (m *LedgerMetrics) IncClaims() {
	if m == nil {
		return
	}
	m.claims.Inc()
}

func (m *LedgerMetrics) ObserveAuthentication(err error) {
	if m == nil {
		return
	}
	m.gatedReads.WithLabelValues(outcome(err)).Inc()
}

func (m *LedgerMetrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome(err)).Inc()
}
