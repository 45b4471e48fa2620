package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var once sync.Once

var (
	stampsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_stamps_issued_total",
			Help: "Total number of stamps issued by the completion trigger.",
		},
	)

	rewardsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_rewards_generated_total",
			Help: "Total number of rewards generated on stamp-threshold hits.",
		},
	)

	rewardsRedeemedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_rewards_redeemed_total",
			Help: "Total number of successful reward redemptions.",
		},
	)

	recordsExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_records_expired_total",
			Help: "Total ledger records expired by sweep jobs, per ledger.",
		},
		[]string{"ledger"}, // 'stamps', 'rewards'
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_sweep_runs_total",
			Help: "Sweep job invocations per ledger and outcome.",
		},
		[]string{"ledger", "outcome"}, // outcome: 'ok', 'error'
	)
)

// Register registers the loyalty collectors with the default registry.
// Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			stampsIssuedTotal,
			rewardsGeneratedTotal,
			rewardsRedeemedTotal,
			recordsExpiredTotal,
			sweepRunsTotal,
		)
	})
}

func IncStampsIssued() { stampsIssuedTotal.Inc() }

func IncRewardsGenerated() { rewardsGeneratedTotal.Inc() }

func IncRewardsRedeemed() { rewardsRedeemedTotal.Inc() }

func AddRecordsExpired(ledger string, count int) {
	recordsExpiredTotal.WithLabelValues(ledger).Add(float64(count))
}

func IncSweepRun(ledger string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sweepRunsTotal.WithLabelValues(ledger, outcome).Inc()
}
