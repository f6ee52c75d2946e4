package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ziswaf_revshare_build_info",
			Help: "Build information of the revenue-share engine",
		},
		[]string{"version", "commit", "date"},
	)

	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziswaf_revshare_transactions_total",
			Help: "Transaction-paid events by formula and outcome",
		},
		[]string{"formula", "outcome"},
	)

	SplitAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziswaf_revshare_split_amount_total",
			Help: "Minor currency units credited to each party type",
		},
		[]string{"party_type"},
	)

	ReversalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziswaf_revshare_reversals_total",
			Help: "Reversal requests by outcome",
		},
		[]string{"outcome"},
	)

	DisbursementTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziswaf_revshare_disbursement_transitions_total",
			Help: "Disbursement workflow actions by outcome; rejected outcomes carry the failed guard",
		},
		[]string{"action", "outcome"},
	)

	DisbursementPaidAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziswaf_revshare_disbursement_paid_amount_total",
			Help: "Minor currency units paid out by disbursement type",
		},
		[]string{"type"},
	)

	UnitOfWorkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ziswaf_revshare_unit_of_work_duration_seconds",
			Help:    "Duration of transactional units of work",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
		[]string{"operation"},
	)

	OutboxEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ziswaf_revshare_outbox_events_total",
			Help: "Outbox deliveries by event type and status",
		},
		[]string{"event_type", "status"},
	)

	OutboxDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ziswaf_revshare_outbox_dispatch_duration_seconds",
			Help:    "Duration of one outbox dispatch cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
	)

	DeferredTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ziswaf_revshare_deferred_transactions",
			Help: "Transactions waiting for a corrected settings snapshot, as of the last retry",
		},
	)
)
