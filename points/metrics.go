package points

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcomes used as the "outcome" label.
const (
	outcomeSuccess   = "success"
	outcomeNetwork   = "network_error"
	outcomeServer    = "server_error"
	outcomeDiscarded = "discarded"
)

var (
	reconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "reconcile_total",
		Help:      "Reconciliation passes by outcome.",
	}, []string{"outcome"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "points",
		Name:      "reconcile_duration_seconds",
		Help:      "Wall time of reconciliation passes, fetch included.",
		Buckets:   prometheus.DefBuckets,
	})

	matchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "matched_total",
		Help:      "Pending transactions superseded by a server record.",
	})

	ambiguousMatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "ambiguous_match_total",
		Help:      "Server records that more than one pending transaction could match.",
	})

	optimisticTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "points",
		Name:      "optimistic_total",
		Help:      "Optimistic transactions applied by kind.",
	}, []string{"kind"})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Name:      "pending_transactions",
		Help:      "Unreconciled transactions in the most recently published snapshot.",
	})

	stalledGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "points",
		Name:      "stalled_transactions",
		Help:      "Pending transactions past the stall threshold in the most recently published snapshot.",
	})
)
