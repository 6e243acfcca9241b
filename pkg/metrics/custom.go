package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "depositgate"

var (
	RateLimitBlockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"route", "reason"}, // reason: token_bucket / sentinel
	)

	CBRejectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"name"},
	)

	CBState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half_open, 2 open).",
		},
		[]string{"name"},
	)

	// ClaimOutcomeTotal 每次 SubmitClaim 的终态
	ClaimOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_claim_total",
			Help:      "Deposit claims by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	CreditedWeiTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposit_credited_wei_total",
		Help:      "Sum of credited deposits in wei (float, approximate).",
	})

	ChainRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chain_rpc_duration_seconds",
		Help:      "Chain node RPC latency",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms ~ 10s
	}, []string{"method", "status"})

	PendingClaims = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deposit_pending_claims",
		Help:      "Pending claims loaded in the last repoll round.",
	})

	ScannedHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deposit_scanned_height",
		Help:      "Last block fully processed by the deposit scanner.",
	})
)
